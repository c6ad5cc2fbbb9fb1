// Package jobs implements the deferred job pipeline (component H): a
// NATS JetStream-backed FIFO queue, and the worker execution loop that
// resolves a job through the message registry, runs it inside a
// UnitOfWork, and routes errors per §7/§8.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/relaylabs/envelope/internal/message"
)

// envelopeJob is the inert on-wire job descriptor (§4.8): {tag, payload,
// meta, enqueued_at}.
type envelopeJob struct {
	Tag         string       `json:"tag"`
	Payload     json.RawMessage `json:"payload"`
	Meta        jobMeta      `json:"meta"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
}

type jobMeta struct {
	ID           string `json:"id"`
	UserPK       *int64 `json:"user_pk,omitempty"`
	ConsumerName string `json:"consumer_name"`
	Language     string `json:"language"`
}

func toJobMeta(m message.Meta) jobMeta {
	return jobMeta{ID: m.ID, UserPK: m.UserPK, ConsumerName: m.ConsumerName, Language: m.Language}
}

func (m jobMeta) toMessageMeta() message.Meta {
	return message.Meta{ID: m.ID, UserPK: m.UserPK, ConsumerName: m.ConsumerName, Language: m.Language}
}

// Queue is a NATS JetStream-backed deferred job queue. One JetStream
// stream with WorkQueuePolicy retention backs every queue name; each
// queue is a distinct durable consumer on a subject derived from its
// name, with MaxDeliver:1 — jobs are never retried (§4.8).
type Queue struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger

	ttl        time.Duration
	jobTimeout time.Duration
}

// NewQueue connects to NATS and enables JetStream.
func NewQueue(url string, ttlSeconds, timeoutSeconds int, logger *slog.Logger) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("envelope"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("jobs: nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("jobs: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs: nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jobs: jetstream init: %w", err)
	}

	return &Queue{
		conn:       nc,
		js:         js,
		logger:     logger,
		ttl:        time.Duration(ttlSeconds) * time.Second,
		jobTimeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Close drains and disconnects.
func (q *Queue) Close() {
	_ = q.conn.Drain()
}

// Ping verifies the NATS connection and JetStream are reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if !q.conn.IsConnected() {
		return fmt.Errorf("jobs: nats not connected")
	}
	_, err := q.js.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("jobs: jetstream ping: %w", err)
	}
	return nil
}

// EnsureStream creates the JETJOBS stream if it does not already exist.
func (q *Queue) EnsureStream(ctx context.Context) error {
	_, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        "JETJOBS",
		Description: "deferred job pipeline",
		Subjects:    []string{"jobs.>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      q.ttl,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("jobs: ensure stream: %w", err)
	}
	return nil
}

func subject(tag string) string {
	return "jobs." + tag
}

// Enqueue satisfies dispatch.JobQueue: publish the job descriptor onto
// the stream keyed by its tag.
func (q *Queue) Enqueue(ctx context.Context, tag string, payload json.RawMessage, meta message.Meta, enqueuedAt time.Time) error {
	job := envelopeJob{Tag: tag, Payload: payload, Meta: toJobMeta(meta), EnqueuedAt: enqueuedAt}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: marshal: %w", err)
	}

	_, err = q.js.Publish(ctx, subject(tag), data)
	if err != nil {
		return fmt.Errorf("jobs: publish %s: %w", tag, err)
	}
	return nil
}

// Consume starts a durable, explicit-ack consumer for tag, dispatching
// each decoded job to handler. MaxDeliver is fixed at 1: the spec
// requires no retry — a job that fails is routed to the failure
// callback, not redelivered. ackWait is the tag's declared job_timeout
// (message.Job.JobTimeout()); callers pass <=0 to fall back to the
// queue's configured default.
func (q *Queue) Consume(ctx context.Context, tag string, ackWait time.Duration, handler func(context.Context, envelopeJob)) error {
	durable := "worker-" + sanitizeDurable(tag)
	if ackWait <= 0 {
		ackWait = q.jobTimeout
	}
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}

	cons, err := q.js.CreateOrUpdateConsumer(ctx, "JETJOBS", jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject(tag),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
		AckWait:       ackWait,
	})
	if err != nil {
		return fmt.Errorf("jobs: create consumer %s: %w", durable, err)
	}

	_, err = cons.Consume(func(msg jetstream.Msg) {
		var job envelopeJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			q.logger.Error("jobs: unmarshal job", "tag", tag, "error", err)
			_ = msg.TermWithReason("unmarshal error")
			return
		}
		handler(ctx, job)
		if err := msg.Ack(); err != nil {
			q.logger.Error("jobs: ack failed", "tag", tag, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("jobs: consume %s: %w", tag, err)
	}
	return nil
}

func sanitizeDurable(tag string) string {
	out := make([]byte, 0, len(tag))
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		if c == '.' || c == ' ' {
			out = append(out, '-')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
