package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestGateway_StreamsEventsAfterHello(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	gw := NewGateway(nil, hub, Options{
		Authorize: func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer s3cret" },
	})
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := mustDial(t, ctx, srv.URL, "s3cret")
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	hello, _ := json.Marshal(FilterPayload{Kinds: []string{KindGrantIssued}})
	mustWrite(t, ctx, conn, Envelope{V: Version, Type: TypeHello, ID: "c1", TS: time.Now().UTC(), Payload: hello})

	ack := mustRead(t, ctx, conn)
	if ack.Type != TypeHelloAck {
		t.Fatalf("expected hello.ack, got %s", ack.Type)
	}

	hub.Publish(Event{Kind: KindUploadAccepted, UserID: 9})
	hub.Publish(Event{Kind: KindGrantIssued, UserID: 9, ChatID: -100})

	env := mustRead(t, ctx, conn)
	if env.Type != TypeEvent {
		t.Fatalf("expected event, got %s", env.Type)
	}
	var ev Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindGrantIssued || ev.ChatID != -100 {
		t.Fatalf("filtered stream delivered %+v", ev)
	}
}

func TestGateway_RejectsUnauthorized(t *testing.T) {
	t.Parallel()

	gw := NewGateway(nil, nil, Options{Authorize: func(*http.Request) bool { return false }})
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv.URL), &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestGateway_OriginPolicy(t *testing.T) {
	t.Parallel()

	gw := NewGateway(nil, nil, Options{AllowedOrigins: []string{"https://admin.example.com"}, OriginRequired: true})

	tests := []struct {
		origin  string
		wantErr bool
	}{
		{"", true},
		{"https://admin.example.com", false},
		{"https://admin.example.com:8443", false},
		{"https://evil.example.com", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/feed", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if err := gw.enforceOrigin(r); (err != nil) != tt.wantErr {
			t.Fatalf("origin %q: err=%v wantErr=%v", tt.origin, err, tt.wantErr)
		}
	}

	if got := deriveOriginPatterns([]string{"https://B.example.com", "http://a.example.com:80", "*"}); strings.Join(got, ",") != "a.example.com,b.example.com" {
		t.Fatalf("patterns: %v", got)
	}
}

// ---- test helpers ----

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func mustDial(t *testing.T, ctx context.Context, baseURL, token string) *websocket.Conn {
	t.Helper()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, wsURL(baseURL), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   h,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func mustWrite(t *testing.T, ctx context.Context, conn *websocket.Conn, env Envelope) {
	t.Helper()

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mustRead(t *testing.T, ctx context.Context, conn *websocket.Conn) Envelope {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}
