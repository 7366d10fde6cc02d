// Package main tails the bouncer admin feed over WebSocket.
//
// It performs the hello handshake, optionally narrows the feed to some event
// kinds, and prints each event as one JSON line. With -count it exits after that
// many events, which makes it usable as a CI smoke check.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "bouncer.feed.v1"
	version      = 1
	maxReadBytes = 1 << 20
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type filterPayload struct {
	Kinds []string `json:"kinds,omitempty"`
}

type helloAck struct {
	SessionID string `json:"session_id"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/feed", "feed WebSocket URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like handshake)")
		token   = flag.String("token", os.Getenv("BOUNCER_ADMIN_TOKEN"), "admin token (default $BOUNCER_ADMIN_TOKEN)")
		kinds   = flag.String("kinds", "", "comma-separated event kinds to receive; empty means all")
		count   = flag.Int("count", 0, "exit after this many events; 0 tails forever")
		timeout = flag.Duration("timeout", 7*time.Second, "handshake timeout")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("missing admin token (-token or BOUNCER_ADMIN_TOKEN)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn := mustConnect(ctx, *wsURL, *origin, *token, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	sessionID := mustHello(ctx, conn, splitKinds(*kinds), *timeout)
	fmt.Fprintf(os.Stderr, "connected session=%s\n", sessionID)

	seen := 0
	for *count == 0 || seen < *count {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			fatalf("read: %v", err)
		}
		switch env.Type {
		case "event":
			fmt.Println(string(env.Payload))
			seen++
		case "error":
			var p errorPayload
			_ = json.Unmarshal(env.Payload, &p)
			fatalf("server error %s: %s", p.Code, p.Message)
		}
	}
}

func mustConnect(parent context.Context, wsURL, origin, token string, timeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("connect: %v (status %d)", err, resp.StatusCode)
		}
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustHello(parent context.Context, conn *websocket.Conn, kinds []string, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	payload, _ := json.Marshal(filterPayload{Kinds: kinds})
	hello, _ := json.Marshal(envelope{
		V:       version,
		Type:    "hello",
		ID:      fmt.Sprintf("tail-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: payload,
	})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		fatalf("write hello: %v", err)
	}

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			fatalf("waiting for hello.ack: %v", err)
		}
		if env.Type != "hello.ack" {
			continue
		}
		var p helloAck
		if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.SessionID) == "" {
			fatalf("bad hello.ack payload: %s", env.Payload)
		}
		return p.SessionID
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func splitKinds(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
