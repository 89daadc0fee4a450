// Command relayd runs the chat relay.
//
// Raw WebSocket clients connect to --addr. With --http set, the same relay is
// also mounted on a gin router at /ws, next to a /healthz endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/olahol/wsrelay"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	cmd := &cli.Command{
		Name:  "relayd",
		Usage: "relay chat messages between up to --max-sessions clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   wsrelay.DefaultAddr,
				Usage:   "raw WebSocket listen address",
				Sources: cli.EnvVars("RELAY_ADDR"),
			},
			&cli.IntFlag{
				Name:    "max-sessions",
				Value:   wsrelay.DefaultMaxSessions,
				Usage:   "maximum number of concurrent sessions",
				Sources: cli.EnvVars("RELAY_MAX_SESSIONS"),
			},
			&cli.StringFlag{
				Name:    "http",
				Usage:   "also serve /ws and /healthz on this address",
				Sources: cli.EnvVars("RELAY_HTTP_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "text",
				Usage:   "relay plain text instead of JSON envelopes",
				Sources: cli.EnvVars("RELAY_TEXT"),
			},
			&cli.DurationFlag{
				Name:    "write-wait",
				Value:   10 * time.Second,
				Usage:   "deadline for a single write to a session",
				Sources: cli.EnvVars("RELAY_WRITE_WAIT"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				Sources: cli.EnvVars("RELAY_DEBUG"),
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
	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	mode := wsrelay.ModeJSON
	if cmd.Bool("text") {
		mode = wsrelay.ModeText
	}

	relay := wsrelay.New(
		wsrelay.WithAddr(cmd.String("addr")),
		wsrelay.WithMode(mode),
		wsrelay.WithMaxSessions(int(cmd.Int("max-sessions"))),
		wsrelay.WithWriteWait(cmd.Duration("write-wait")),
		wsrelay.WithLogger(logger),
	)
	defer relay.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.ListenAndServe(gctx)
	})

	if addr := cmd.String("http"); addr != "" {
		srv := &http.Server{
			Addr:    addr,
			Handler: router(relay, logger, cmd.Bool("debug")),
		}
		g.Go(func() error {
			logger.Info("http listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	err := g.Wait()
	logger.Info("relay stopped")
	return err
}

func router(relay *wsrelay.Server, logger *slog.Logger, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		stats, err := relay.Stats()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	r.GET("/ws", func(c *gin.Context) {
		if err := relay.HandleRequest(c.Writer, c.Request); err != nil {
			logger.Debug("websocket request ended", "addr", c.Request.RemoteAddr, "error", err)
		}
	})

	return r
}
