package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMessageCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		wantName string
		wantArgs int
		wantOK   bool
	}{
		{"/start", "start", 0, true},
		{"/START@bouncer_bot", "start", 0, true},
		{"/ban 12345", "ban", 1, true},
		{"/  ", "", 0, false},
		{"hello", "", 0, false},
		{"", "", 0, false},
	}

	for _, tt := range tests {
		name, args, ok := Message{Text: tt.text}.Command()
		if ok != tt.wantOK || name != tt.wantName || len(args) != tt.wantArgs {
			t.Fatalf("Command(%q) = (%q, %v, %v), want (%q, %d args, %v)",
				tt.text, name, args, ok, tt.wantName, tt.wantArgs, tt.wantOK)
		}
	}
}

func TestUserFullName(t *testing.T) {
	t.Parallel()

	if got := (User{FirstName: "Ada", LastName: "Lovelace"}).FullName(); got != "Ada Lovelace" {
		t.Fatalf("got %q", got)
	}
	if got := (User{FirstName: "Ada"}).FullName(); got != "Ada" {
		t.Fatalf("got %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	perm := NewError("getChat", Permanent, base)
	limited := &Error{Op: "sendMessage", Kind: RateLimited, RetryAfter: 3 * time.Second, Err: base}
	wrapped := fmt.Errorf("assess: %w", perm)

	tests := []struct {
		name      string
		err       error
		permanent bool
		transient bool
	}{
		{"nil", nil, false, false},
		{"plain", base, false, true},
		{"context", context.DeadlineExceeded, false, true},
		{"permanent", perm, true, false},
		{"wrapped permanent", wrapped, true, false},
		{"rate limited", limited, false, true},
	}

	for _, tt := range tests {
		if got := IsPermanent(tt.err); got != tt.permanent {
			t.Fatalf("%s: IsPermanent=%v want %v", tt.name, got, tt.permanent)
		}
		if got := IsTransient(tt.err); got != tt.transient {
			t.Fatalf("%s: IsTransient=%v want %v", tt.name, got, tt.transient)
		}
	}

	if !errors.Is(wrapped, base) {
		t.Fatalf("expected Unwrap chain to reach base error")
	}
	if KindOf(limited) != RateLimited {
		t.Fatalf("expected RateLimited")
	}
}
