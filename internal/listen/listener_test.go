// ABOUTME: Integration tests for the LISTEN subscription against a real Postgres.
// ABOUTME: Covers envelope parsing, malformed-payload skipping, and the trigger contract.
package listen_test

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/rrbarrero/seeker/internal/listen"
	"github.com/rrbarrero/seeker/internal/store"
	"github.com/rrbarrero/seeker/internal/testutil"
)

const channel = "email_queue"

// nextWithTimeout calls Next with a deadline so a missed notification fails
// the test instead of hanging it.
func nextWithTimeout(t *testing.T, l *listen.Listener, d time.Duration) (uuid.UUID, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.Next(ctx)
}

func TestListener_ReceivesEnqueueNotification(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	l := listen.New(s.ConnString, channel)
	if err := l.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close(ctx) //nolint:errcheck

	// A bare insert must be enough: the trigger emits the envelope.
	id, err := s.Enqueue(ctx, store.EnqueueParams{To: gofakeit.Email(), Subject: "S", Body: "B"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := nextWithTimeout(t, l, 10*time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != id {
		t.Errorf("notification id = %v, want %v", got, id)
	}
}

func TestListener_SkipsMalformedPayloads(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	l := listen.New(s.ConnString, channel)
	if err := l.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close(ctx) //nolint:errcheck

	want := uuid.New()
	for _, payload := range []string{
		"not json",
		`{"id":"not-a-uuid"}`,
		`{}`,
		`{"id":"` + want.String() + `"}`,
	} {
		if _, err := s.Pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
			t.Fatalf("pg_notify(%q): %v", payload, err)
		}
	}

	// Next must skip the three garbage payloads and deliver the valid one.
	got, err := nextWithTimeout(t, l, 10*time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != want {
		t.Errorf("notification id = %v, want %v", got, want)
	}
}

func TestListener_NextBeforeListenFails(t *testing.T) {
	t.Parallel()

	l := listen.New("postgres://unused", channel)
	if _, err := l.Next(context.Background()); err == nil {
		t.Error("Next without Listen should fail")
	}
}

func TestListener_ListenAfterCloseResubscribes(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	l := listen.New(s.ConnString, channel)
	if err := l.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := l.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulates the reconnect path: a second Listen must work after the
	// first connection is gone.
	if err := l.Listen(ctx); err != nil {
		t.Fatalf("Listen (resubscribe): %v", err)
	}
	defer l.Close(ctx) //nolint:errcheck

	id, err := s.Enqueue(ctx, store.EnqueueParams{To: gofakeit.Email(), Subject: "S", Body: "B"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := nextWithTimeout(t, l, 10*time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != id {
		t.Errorf("notification id = %v, want %v", got, id)
	}
}
