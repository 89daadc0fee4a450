package wsrelay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunHeadless sends text once, then waits for replies according to
// Config.HeadlessPolicy and closes the connection. It returns ErrNoReply if
// nothing arrived within Config.HeadlessTimeout.
func (c *Client) RunHeadless(ctx context.Context, text string) error {
	return c.run(ctx, func(ctx context.Context, replies <-chan struct{}, recvDone <-chan struct{}) error {
		if err := c.Send(text); err != nil {
			return err
		}

		overall := time.NewTimer(c.Config.HeadlessTimeout)
		defer overall.Stop()

		var linger *time.Timer
		var lingerC <-chan time.Time
		defer func() {
			if linger != nil {
				linger.Stop()
			}
		}()

		for {
			select {
			case <-replies:
				switch {
				case linger == nil:
					linger = time.NewTimer(c.Config.ReplyLinger)
					lingerC = linger.C
				case c.Config.HeadlessPolicy == LingerIdle:
					linger.Reset(c.Config.ReplyLinger)
				}
			case <-lingerC:
				return nil
			case <-overall.C:
				if linger != nil {
					return nil
				}
				return fmt.Errorf("%w within %s", ErrNoReply, c.Config.HeadlessTimeout)
			case <-recvDone:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// RunInteractive sends every line read from input until input ends, the line
// "exit" is read or the relay closes the connection.
func (c *Client) RunInteractive(ctx context.Context, input io.Reader) error {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	return c.run(ctx, func(ctx context.Context, _ <-chan struct{}, recvDone <-chan struct{}) error {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				line = strings.TrimRight(line, "\r")
				if strings.EqualFold(strings.TrimSpace(line), "exit") {
					return nil
				}
				if line == "" {
					continue
				}
				if err := c.Send(line); err != nil {
					if errors.Is(err, ErrPayloadTooLarge) {
						c.logger.Warn("message not sent", "error", err)
						continue
					}
					return err
				}
			case <-recvDone:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
}

type inputDuty func(ctx context.Context, replies <-chan struct{}, recvDone <-chan struct{}) error

// run pairs the receive duty with input and joins both. The connection is
// closed as soon as input returns, which ends the receive duty.
func (c *Client) run(ctx context.Context, input inputDuty) error {
	if c.State() != StateReady {
		return ErrNotConnected
	}

	replies := make(chan struct{}, 1)
	recvDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(recvDone)
		return c.receive(gctx, replies)
	})
	g.Go(func() error {
		defer c.Close()
		return input(gctx, replies, recvDone)
	})
	return g.Wait()
}
