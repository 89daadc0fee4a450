package wsrelay

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectClient(t *testing.T, addr string, opts ...ClientOption) *Client {
	t.Helper()
	c := NewClient(addr, opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

// replyingPeer names itself "peer" and answers every relayed envelope with n
// replies spaced by gap.
func replyingPeer(t *testing.T, addr string, n int, gap time.Duration) {
	t.Helper()
	peer := dialPeer(t, addr)
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, envelopeJSON(t, "peer", "null", ChangeUsername|NoBroadcast)))
	go func() {
		for {
			if _, _, err := peer.ReadMessage(); err != nil {
				return
			}
			for i := 0; i < n; i++ {
				b, _ := NewEnvelope("peer", "pong", 0).Marshal()
				if err := peer.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
				time.Sleep(gap)
			}
		}
	}()
}

func TestClientStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "handshaking", StateHandshaking.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient("127.0.0.1:1")

	assert.ErrorIs(t, c.Send("hi"), ErrNotConnected)
	assert.ErrorIs(t, c.Close(), ErrNotConnected)
	assert.ErrorIs(t, c.RunHeadless(context.Background(), "hi"), ErrNotConnected)
}

func TestClientLoopback(t *testing.T) {
	s, addr := startRelay(t)

	received := make(chan Message, 4)
	b := NewClient(addr)
	b.HandleMessage(func(m Message) {
		received <- m
	})
	require.NoError(t, b.Connect(context.Background()))

	input, feed := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- b.RunInteractive(context.Background(), input) }()
	waitSessions(t, s, 1)

	a := connectClient(t, addr, WithUsername("alice"))
	assert.Equal(t, StateReady, a.State())
	waitSessions(t, s, 2)
	require.NoError(t, a.Send("hello"))

	select {
	case m := <-received:
		assert.Equal(t, "alice", m.Username)
		assert.Equal(t, "hello", m.Text)
		assert.False(t, m.ReceivedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("message not relayed")
	}

	feed.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("interactive loop did not stop")
	}
	assert.Equal(t, StateClosed, b.State())
	waitSessions(t, s, 1)
}

func TestClientInteractiveExit(t *testing.T) {
	s, addr := startRelay(t)
	peer := dialPeer(t, addr)
	waitSessions(t, s, 1)

	var sent []string
	c := NewClient(addr)
	c.HandleSentMessage(func(text string) {
		sent = append(sent, text)
	})
	require.NoError(t, c.Connect(context.Background()))
	waitSessions(t, s, 2)

	err := c.RunInteractive(context.Background(), strings.NewReader("first\r\n\nEXIT\nnever sent\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"first"}, sent)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, "first", readEnvelope(t, peer).Message.Text)
	waitSessions(t, s, 1)
}

func TestClientHeadlessLingerAfterReply(t *testing.T) {
	s, addr := startRelay(t)
	replyingPeer(t, addr, 1, 0)
	waitSessions(t, s, 1)

	var got []Message
	c := connectClient(t, addr, WithHeadlessPolicy(LingerAfterReply, 100*time.Millisecond), WithHeadlessTimeout(5*time.Second))
	c.HandleMessage(func(m Message) {
		got = append(got, m)
	})

	start := time.Now()
	require.NoError(t, c.RunHeadless(context.Background(), "ping"))

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, "peer", got[0].Username)
	assert.Equal(t, "pong", got[0].Text)
	assert.Equal(t, StateClosed, c.State())
}

func TestClientHeadlessLingerIdle(t *testing.T) {
	s, addr := startRelay(t)
	replyingPeer(t, addr, 3, 50*time.Millisecond)
	waitSessions(t, s, 1)

	var got []Message
	c := connectClient(t, addr, WithHeadlessPolicy(LingerIdle, 300*time.Millisecond))
	c.HandleMessage(func(m Message) {
		got = append(got, m)
	})

	require.NoError(t, c.RunHeadless(context.Background(), "ping"))
	assert.Len(t, got, 3)
}

func TestClientHeadlessNoReply(t *testing.T) {
	_, addr := startRelay(t)

	c := connectClient(t, addr, WithHeadlessTimeout(100*time.Millisecond))
	err := c.RunHeadless(context.Background(), "anyone?")
	assert.ErrorIs(t, err, ErrNoReply)
	assert.Equal(t, StateClosed, c.State())
}

func TestClientHeadlessRelayCloses(t *testing.T) {
	s, addr := startRelay(t)

	c := connectClient(t, addr, WithHeadlessTimeout(5*time.Second))
	waitSessions(t, s, 1)

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Close()
	}()

	start := time.Now()
	require.NoError(t, c.RunHeadless(context.Background(), "bye"))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientChatLog(t *testing.T) {
	s, addr := startRelay(t)
	replyingPeer(t, addr, 2, 0)
	waitSessions(t, s, 1)

	var log bytes.Buffer
	c := connectClient(t, addr, WithChatLog(&log), WithHeadlessPolicy(LingerIdle, 200*time.Millisecond))
	require.NoError(t, c.RunHeadless(context.Background(), "ping"))

	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	require.Len(t, lines, 2)
	e, err := ParseEnvelope([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, "pong", e.Message.Text)
}

func TestClientTextMode(t *testing.T) {
	s, addr := startRelay(t, WithMode(ModeText))
	peer := dialPeer(t, addr)
	waitSessions(t, s, 1)

	c := connectClient(t, addr, WithClientMode(ModeText), WithUsername("alice"))
	waitSessions(t, s, 2)
	require.NoError(t, c.Send("hi"))

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "alice: hi", string(msg))

	m := c.decodeMessage([]byte("bob: hey there"))
	assert.Equal(t, "bob", m.Username)
	assert.Equal(t, "hey there", m.Text)
}

func TestClientPayloadTooLarge(t *testing.T) {
	_, addr := startRelay(t)

	c := connectClient(t, addr, WithClientMode(ModeText))
	err := c.Send(strings.Repeat("x", 70000))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	assert.Equal(t, StateReady, c.State())
	assert.NoError(t, c.Send("small enough"))
}

func TestClientCapacityRefused(t *testing.T) {
	_, addr := startRelay(t, WithMaxSessions(1))
	connectClient(t, addr)

	c := NewClient(addr)
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Equal(t, StateClosed, c.State())
}

// stubListener serves each accepted connection with handle.
func stubListener(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestClientBadAcceptKey(t *testing.T) {
	addr := stubListener(t, func(conn net.Conn) {
		if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
			return
		}
		conn.Write([]byte(switching("d3JvbmcgYWNjZXB0IGtleQ==", "")))
		time.Sleep(100 * time.Millisecond)
	})

	c := NewClient(addr)
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Equal(t, StateClosed, c.State())

	fixed := NewClient(addr, WithFixedKey())
	require.NoError(t, fixed.Connect(context.Background()))
	fixed.Close()
}

func TestClientHandshakeTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	addr := stubListener(t, func(conn net.Conn) {
		<-release
	})

	c := NewClient(addr, WithClientHandshakeTimeout(100*time.Millisecond))
	start := time.Now()
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateClosed, c.State())
}
