// ABOUTME: JobProcessor: decodes a claimed job's payload, restores its trace
// ABOUTME: lineage, and hands the email to the injected Sender.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rrbarrero/seeker/internal/mail"
	"github.com/rrbarrero/seeker/internal/store"
	"github.com/rrbarrero/seeker/internal/telemetry"
)

// tracerName is the instrumentation scope name for worker spans.
const tracerName = "github.com/rrbarrero/seeker/internal/worker"

// emailPayload is the typed shape of a job's payload column.
type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Processor turns a claimed job into a delivered email. It performs no
// retries of its own: a failed send leaves the job pending, and the next
// notification or sweep is the retry mechanism.
type Processor struct {
	store  *store.Store
	sender mail.Sender
	tracer trace.Tracer
}

// NewProcessor creates a Processor delivering through sender.
func NewProcessor(st *store.Store, sender mail.Sender) *Processor {
	return &Processor{
		store:  st,
		sender: sender,
		tracer: otel.Tracer(tracerName),
	}
}

// ProcessJob claims the job and, if this worker wins the claim, sends the
// email and commits. Returns whether the claim was won and any processing
// error (claim misses are not errors).
func (p *Processor) ProcessJob(ctx context.Context, id uuid.UUID) (bool, error) {
	return p.store.ClaimAndRun(ctx, id, p.handle)
}

// handle runs inside the claiming transaction.
func (p *Processor) handle(ctx context.Context, job *store.Job) error {
	var payload emailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload for job %s: %w", job.ID, err)
	}

	// Re-parent under the request that enqueued the job when the enqueuer
	// captured a traceparent; otherwise this span is a fresh root.
	if job.TraceContext != nil {
		ctx = telemetry.ParentContext(ctx, *job.TraceContext)
	}

	attrs := []attribute.KeyValue{
		attribute.String("email_queue.job_id", job.ID.String()),
	}
	if job.UserID != nil {
		attrs = append(attrs, attribute.String("email_queue.user_id", job.UserID.String()))
	}
	ctx, span := p.tracer.Start(ctx, "email_queue.process",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	err := p.sender.Send(ctx, payload.To, payload.Subject, payload.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
