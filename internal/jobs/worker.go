package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/messages"
	"github.com/relaylabs/envelope/internal/registry"
	"github.com/relaylabs/envelope/internal/storage"
)

// Unit is the narrow transactional contract a job runs inside — either a
// real storage.UnitOfWork or a no-op for jobs with Atomic()==false.
type Unit interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type noopUnit struct{}

func (noopUnit) Commit(ctx context.Context) error   { return nil }
func (noopUnit) Rollback(ctx context.Context) error { return nil }

// PostgresPool is the narrow capability the worker needs to begin a
// transaction per job.
type PostgresPool interface {
	Begin(ctx context.Context) (*storage.UnitOfWork, error)
}

// beginner adapts storage.PostgresClient to PostgresPool.
type beginner struct{ client *storage.PostgresClient }

func (b beginner) Begin(ctx context.Context) (*storage.UnitOfWork, error) {
	return storage.BeginUnitOfWork(ctx, b.client)
}

// Worker runs the deferred job pipeline's consume loop: resolve a job
// through the registry, reconstruct its Message, stamp its meta (language
// included) on the env, and run RunJob inside a transaction (unless
// Atomic()==false). No locale is activated for the job's language.
type Worker struct {
	queue   *Queue
	catalog *registry.Catalog
	pool    PostgresPool
	bus     *bus.Bus
	logger  *slog.Logger
	env     *WorkerEnv
}

// NewWorker builds a Worker. env carries the collaborators (channel layer,
// transport, resolver, archive, app-state config) RunJob implementations
// and error routing both reach for — the worker itself holds no separate
// copy of the layer/transport/route.
func NewWorker(q *Queue, catalog *registry.Catalog, pool *storage.PostgresClient, b *bus.Bus, env *WorkerEnv, logger *slog.Logger) *Worker {
	return &Worker{
		queue:   q,
		catalog: catalog,
		pool:    beginner{client: pool},
		bus:     b,
		logger:  logger,
		env:     env,
	}
}

// Run starts one durable consumer per registered job tag and blocks
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for _, tag := range w.catalog.JobTags() {
		tag := tag
		ackWait, _ := w.catalog.JobTimeoutFor(tag)
		if err := w.queue.Consume(ctx, tag, ackWait, w.handle); err != nil {
			return fmt.Errorf("jobs: start consumer for %s: %w", tag, err)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (w *Worker) handle(ctx context.Context, raw envelopeJob) {
	meta := raw.Meta.toMessageMeta()
	meta.Kind = envelope.Incoming

	job, ok := w.resolveJob(raw.Tag, raw.Payload, meta)
	if !ok {
		w.logger.ErrorContext(ctx, "jobs: unknown job tag", "tag", raw.Tag)
		return
	}

	w.env.setCurrent(meta)

	// ttl is the in-queue half of §9's ttl/job_timeout contract: a job
	// that sat in the queue longer than its declared TTL() is treated as
	// failed without ever running RunJob.
	if ttl := job.TTL(); ttl > 0 && time.Since(raw.EnqueuedAt) > ttl {
		w.logger.WarnContext(ctx, "jobs: job expired in queue", "tag", raw.Tag, "ttl", ttl, "enqueued_at", raw.EnqueuedAt)
		w.routeError(ctx, meta, raw.Tag, messages.NewJobError(meta, "job expired in queue"))
		return
	}

	var unit Unit = noopUnit{}
	if job.Atomic() {
		uow, err := w.pool.Begin(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "jobs: begin transaction", "tag", raw.Tag, "error", err)
			return
		}
		unit = uow
	}

	reply, runErr := job.RunJob(ctx, w.env)

	if runErr != nil {
		_ = unit.Rollback(ctx)
		w.routeError(ctx, meta, raw.Tag, runErr)
		return
	}

	if err := unit.Commit(ctx); err != nil {
		w.logger.ErrorContext(ctx, "jobs: commit failed", "tag", raw.Tag, "error", err)
		w.routeError(ctx, meta, raw.Tag, err)
		return
	}

	// Return values are otherwise ignored (§4.8) except to deliver a final
	// reply for jobs that produce exactly one, like channel.subscribe.
	if reply != nil {
		if err := w.env.Deliver(ctx, meta.ConsumerName, reply); err != nil {
			w.logger.WarnContext(ctx, "jobs: deliver reply failed", "tag", raw.Tag, "error", err)
		}
	}
}

func (w *Worker) resolveJob(tag string, payload json.RawMessage, meta message.Meta) (message.Job, bool) {
	msg, ok := w.catalog.New(envelope.Incoming, tag)
	if !ok {
		msg, ok = w.catalog.New(envelope.Internal, tag)
	}
	if !ok {
		return nil, false
	}
	job, ok := msg.(message.Job)
	if !ok {
		return nil, false
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, job); err != nil {
			w.logger.Error("jobs: unmarshal job payload", "tag", tag, "error", err)
			return nil, false
		}
	}
	job.SetMeta(meta)
	return job, true
}

// routeError implements §4.8's error routing: an ErrorMessage goes back
// via the error envelope kind as-is; any other error is wrapped as
// error.job. Neither case retries — the consumer has MaxDeliver:1 and
// acks the delivery once the handler returns.
func (w *Worker) routeError(ctx context.Context, meta message.Meta, tag string, err error) {
	var em message.ErrorMessage
	if asEM, ok := err.(message.ErrorMessage); ok {
		em = asEM
		if em.Meta().ID == "" {
			em.SetMeta(meta)
		}
	} else {
		em = messages.NewJobError(meta, err.Error())
	}

	env, perr := envelope.Pack(em, envelope.ErrorKind, em.Meta().ID, em.Meta().State)
	if perr != nil {
		w.logger.ErrorContext(ctx, "jobs: pack error reply", "tag", tag, "error", perr)
		return
	}
	payload, perr := w.env.transport.Wrap(env, envelope.RouteErrorSend)
	if perr != nil {
		w.logger.ErrorContext(ctx, "jobs: wrap error reply", "tag", tag, "error", perr)
		return
	}
	if sendErr := w.env.layer.Send(ctx, meta.ConsumerName, payload); sendErr != nil {
		w.logger.WarnContext(ctx, "jobs: send error reply failed", "tag", tag, "error", sendErr)
	}
	w.bus.Fire(ctx, bus.Event{
		Signal:       bus.OutgoingWebsocketError,
		ConsumerName: meta.ConsumerName,
		UserPK:       meta.UserPK,
		Tag:          em.Tag(),
	})
}
