// Command relaychat is a chat client for relayd.
//
// With -m it sends one message, prints the replies and exits. Without it,
// every line read from stdin is sent until "exit" or end of input.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/olahol/wsrelay"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	cmd := &cli.Command{
		Name:  "relaychat",
		Usage: "chat through a relayd instance",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "message",
				Aliases: []string{"m"},
				Usage:   "send this message, wait for replies and exit",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "display name announced after connecting",
				Sources: cli.EnvVars("RELAY_NAME"),
			},
			&cli.BoolFlag{
				Name:    "save",
				Aliases: []string{"s"},
				Usage:   "append received messages to --log-file",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Value: "chat_log.log",
				Usage: "chat log written with --save",
			},
			&cli.StringFlag{
				Name:    "host",
				Aliases: []string{"H"},
				Value:   "127.0.0.1",
				Usage:   "relay host",
				Sources: cli.EnvVars("RELAY_HOST"),
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   "9999",
				Usage:   "relay port",
				Sources: cli.EnvVars("RELAY_PORT"),
			},
			&cli.BoolFlag{
				Name:  "text",
				Usage: "send plain text instead of JSON envelopes",
			},
			&cli.BoolFlag{
				Name:  "fixed-key",
				Usage: "send the sample handshake key and skip accept validation",
			},
			&cli.DurationFlag{
				Name:  "linger",
				Value: 5 * time.Second,
				Usage: "how long to keep listening after a reply with -m",
			},
			&cli.BoolFlag{
				Name:  "linger-idle",
				Usage: "with -m, stop once no reply arrived for --linger instead of --linger after the first",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 50 * time.Second,
				Usage: "with -m, give up if no reply arrived in this time",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []wsrelay.ClientOption{
		wsrelay.WithClientLogger(logger),
		wsrelay.WithUsername(cmd.String("name")),
		wsrelay.WithHeadlessTimeout(cmd.Duration("timeout")),
	}
	if cmd.Bool("text") {
		opts = append(opts, wsrelay.WithClientMode(wsrelay.ModeText))
	}
	if cmd.Bool("fixed-key") {
		opts = append(opts, wsrelay.WithFixedKey())
	}
	policy := wsrelay.LingerAfterReply
	if cmd.Bool("linger-idle") {
		policy = wsrelay.LingerIdle
	}
	opts = append(opts, wsrelay.WithHeadlessPolicy(policy, cmd.Duration("linger")))

	// The chat log is opened before dialing so a bad path never costs a connection.
	if cmd.Bool("save") {
		f, err := os.OpenFile(cmd.String("log-file"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open chat log: %w", err)
		}
		defer f.Close()
		opts = append(opts, wsrelay.WithChatLog(f))
	}

	addr := net.JoinHostPort(cmd.String("host"), cmd.String("port"))
	client := wsrelay.NewClient(addr, opts...)

	out := io.Writer(os.Stdout)
	client.HandleMessage(func(m wsrelay.Message) {
		if m.Username != "" {
			fmt.Fprintf(out, "Received: %s: %s\n", m.Username, m.Text)
			return
		}
		fmt.Fprintf(out, "Received: %s\n", m.Text)
	})
	client.HandleSentMessage(func(text string) {
		fmt.Fprintf(out, "Sent: %s\n", text)
	})

	if err := client.Connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s\n", addr)

	if msg := cmd.String("message"); msg != "" {
		return client.RunHeadless(ctx, msg)
	}
	return client.RunInteractive(ctx, os.Stdin)
}
