package wsrelay

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// websocketGUID is appended to the client key to derive Sec-WebSocket-Accept.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// fixedKey is the sample nonce from RFC 6455 section 1.3, sent in fixed-key
// compatibility mode.
const fixedKey = "dGhlIHNhbXBsZSBub25jZQ=="

const (
	switchingProtocols = "101 Switching Protocols"
	maxResponseHead    = 8192
)

// AcceptKey returns base64(SHA1(key + GUID)), the Sec-WebSocket-Accept value a
// server must answer key with.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func newHandshakeKey(fixed bool) string {
	if fixed {
		return fixedKey
	}
	nonce := uuid.New()
	return base64.StdEncoding.EncodeToString(nonce[:])
}

// clientHandshake sends the upgrade request and waits for the response head.
// It returns any bytes that followed the head; they belong to the first frames.
func clientHandshake(conn net.Conn, host, key string, validate bool) ([]byte, error) {
	var req strings.Builder
	req.Grow(256)
	req.WriteString("GET / HTTP/1.1\r\n")
	req.WriteString("Host: " + host + "\r\n")
	req.WriteString("Upgrade: websocket\r\n")
	req.WriteString("Connection: Upgrade\r\n")
	req.WriteString("Sec-WebSocket-Key: " + key + "\r\n")
	req.WriteString("Sec-WebSocket-Version: 13\r\n\r\n")

	if _, err := io.WriteString(conn, req.String()); err != nil {
		return nil, handshakeIOError("send request", err)
	}

	var resp []byte
	chunk := make([]byte, 4096)
	end := -1
	for end < 0 {
		n, err := conn.Read(chunk)
		resp = append(resp, chunk[:n]...)
		end = bytes.Index(resp, []byte("\r\n\r\n"))
		if end >= 0 {
			break
		}
		if err != nil {
			return nil, handshakeIOError("read response", err)
		}
		if len(resp) > maxResponseHead {
			return nil, fmt.Errorf("%w: response head exceeds %d bytes", ErrHandshakeFailed, maxResponseHead)
		}
	}

	head, rest := resp[:end+4], resp[end+4:]
	if !bytes.Contains(head, []byte(switchingProtocols)) {
		return nil, fmt.Errorf("%w: unexpected response %q", ErrHandshakeFailed, firstLine(head))
	}

	if validate {
		r, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(head)), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		r.Body.Close()
		if got, want := r.Header.Get("Sec-WebSocket-Accept"), AcceptKey(key); got != want {
			return nil, fmt.Errorf("%w: Sec-WebSocket-Accept %q, want %q", ErrHandshakeFailed, got, want)
		}
	}

	return rest, nil
}

func handshakeIOError(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrConnectionTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrHandshakeFailed, op, err)
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\r'); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// readUpgradeRequest parses the client's upgrade request and returns its key.
func readUpgradeRequest(br *bufio.Reader) (string, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if req.Method != http.MethodGet {
		return "", fmt.Errorf("%w: method %s", ErrHandshakeFailed, req.Method)
	}
	if !headerContains(req.Header, "Upgrade", "websocket") {
		return "", fmt.Errorf("%w: missing Upgrade header", ErrHandshakeFailed)
	}
	if !headerContains(req.Header, "Connection", "Upgrade") {
		return "", fmt.Errorf("%w: missing Connection header", ErrHandshakeFailed)
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return "", fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrHandshakeFailed)
	}
	return key, nil
}

func writeUpgradeResponse(w io.Writer, key string) error {
	_, err := io.WriteString(w, "HTTP/1.1 "+switchingProtocols+"\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: "+AcceptKey(key)+"\r\n\r\n")
	return err
}

func writeHandshakeError(w io.Writer, status int) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		status, http.StatusText(status))
	return err
}

// headerContains reports whether the comma separated header holds value,
// compared case-insensitively.
func headerContains(h http.Header, name, value string) bool {
	for _, s := range h.Values(name) {
		for _, v := range strings.Split(s, ",") {
			if strings.EqualFold(strings.TrimSpace(v), value) {
				return true
			}
		}
	}
	return false
}
