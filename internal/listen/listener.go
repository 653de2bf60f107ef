// Package listen maintains the LISTEN subscription that wakes the worker
// when a job row is committed.
//
// The subscription runs on its own dedicated connection, never one borrowed
// from the transactional pool: a pooled connection could be handed to
// another caller between notifications, silently dropping the subscription.
// Notifications emitted while the connection is down are lost for good —
// the protocol has no redelivery — which is why the recovery sweep exists.
package listen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// envelope is the wire shape every enqueuer emits on the channel.
type envelope struct {
	ID uuid.UUID `json:"id"`
}

// Listener holds a long-lived LISTEN subscription on a pg_notify channel.
type Listener struct {
	connString string
	channel    string
	log        *slog.Logger
	conn       *pgx.Conn
}

// New creates a Listener for the named channel. Call Listen before Next.
func New(connString, channel string) *Listener {
	return &Listener{
		connString: connString,
		channel:    channel,
		log:        slog.Default(),
	}
}

// Listen opens the dedicated connection and subscribes to the channel.
// Safe to call again after a transport failure; any previous connection is
// discarded first.
func (l *Listener) Listen(ctx context.Context) error {
	if l.conn != nil {
		_ = l.conn.Close(ctx) //nolint:errcheck // connection is already suspect
		l.conn = nil
	}

	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("listen: connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx) //nolint:errcheck
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.conn = conn
	return nil
}

// Next blocks until a notification with a parsable envelope arrives and
// returns the embedded job id. Malformed payloads are logged and skipped —
// a bad message must not stall the loop. A returned error means the
// connection is broken; the caller should call Listen again after a delay.
func (l *Listener) Next(ctx context.Context) (uuid.UUID, error) {
	if l.conn == nil {
		return uuid.Nil, fmt.Errorf("next: not listening on %s", l.channel)
	}
	for {
		n, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			return uuid.Nil, fmt.Errorf("wait for notification: %w", err)
		}

		var env envelope
		if err := json.Unmarshal([]byte(n.Payload), &env); err != nil || env.ID == uuid.Nil {
			l.log.Warn("discarding malformed notification",
				"channel", n.Channel, "payload", n.Payload, "error", err)
			continue
		}
		return env.ID, nil
	}
}

// Close tears down the dedicated connection.
func (l *Listener) Close(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close(ctx)
	l.conn = nil
	return err
}
