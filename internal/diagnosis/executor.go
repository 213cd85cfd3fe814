package diagnosis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"medrag/internal/kg"
	"medrag/internal/llm"
	"medrag/internal/metrics"
	"medrag/internal/retrieval"
)

// CaseSearcher finds prior cases similar to a query.
type CaseSearcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Case, error)
}

// GraphExpander walks the knowledge graph outward from the given terms.
type GraphExpander interface {
	Expand(ctx context.Context, terms []string, maxDepth int) (kg.Expansion, error)
}

type ExecutorConfig struct {
	Workers      int
	QueueSize    int
	MaxAttempts  int
	RetryBase    time.Duration
	StageTimeout time.Duration
	KGMaxDepth   int
	Limits       PromptLimits
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 15 * time.Second
	}
	if c.KGMaxDepth <= 0 {
		c.KGMaxDepth = 2
	}
	return c
}

// Executor runs diagnosis jobs on a fixed pool of workers pulling from a
// buffered queue. It guarantees at most one active job per session id, so
// session mutation stays single-writer. Transient stage failures (index
// unavailable, provider timeout or rate limit) are retried with exponential
// backoff; provider failures fall back to the offline client and mark the
// result degraded.
type Executor struct {
	mgr      *Manager
	store    Store
	search   CaseSearcher
	graph    GraphExpander
	provider llm.Client
	fallback llm.Client
	cfg      ExecutorConfig
	log      zerolog.Logger

	jobs   chan Job
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
	wg     sync.WaitGroup
}

// NewExecutor wires the pipeline stages together. provider may be nil, in
// which case the offline fallback serves all generation directly.
func NewExecutor(mgr *Manager, store Store, search CaseSearcher, graph GraphExpander, provider llm.Client, cfg ExecutorConfig, log zerolog.Logger) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		mgr:      mgr,
		store:    store,
		search:   search,
		graph:    graph,
		provider: provider,
		fallback: llm.NewOfflineClient(),
		cfg:      cfg,
		log:      log.With().Str("component", "executor").Logger(),
		jobs:     make(chan Job, cfg.QueueSize),
		active:   map[uuid.UUID]struct{}{},
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; use
// Wait to block until in-flight jobs finish.
func (e *Executor) Start(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.log.Info().Int("workers", e.cfg.Workers).Int("queue", e.cfg.QueueSize).Msg("executor started")
}

// Wait blocks until all workers have stopped.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Submit validates the input, creates a pending session and enqueues the
// diagnosis job. The request path never blocks on pipeline work.
func (e *Executor) Submit(ctx context.Context, input PatientInput) (*Session, error) {
	sess, err := e.mgr.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	metrics.SessionsStarted.Inc()

	job := Job{
		ID:         ulid.Make().String(),
		SessionID:  sess.ID,
		Input:      sess.Input,
		EnqueuedAt: time.Now().UTC(),
		Attempt:    1,
	}
	if err := e.Enqueue(ctx, job); err != nil {
		// The session exists but will never run; fail it so it does not
		// stay pending forever.
		if _, terr := e.mgr.Transition(ctx, sess.ID, StateProcessing, Mutation{}); terr == nil {
			e.mgr.Transition(ctx, sess.ID, StateFailed, Mutation{Error: "could not enqueue diagnosis job: " + err.Error()})
		}
		return nil, err
	}
	return sess, nil
}

// Enqueue places a job on the queue. A job for a session that already has
// one queued or running is rejected with ErrJobActive; the original job is
// unaffected. A full queue removes the persisted record: the caller owns the
// session and is expected to fail it.
func (e *Executor) Enqueue(ctx context.Context, job Job) error {
	return e.enqueue(ctx, job, true)
}

func (e *Executor) enqueue(ctx context.Context, job Job, deleteOnFull bool) error {
	e.mu.Lock()
	if _, busy := e.active[job.SessionID]; busy {
		e.mu.Unlock()
		return ErrJobActive
	}
	e.active[job.SessionID] = struct{}{}
	e.mu.Unlock()

	if err := e.store.InsertJob(ctx, &job); err != nil {
		e.release(job.SessionID)
		return err
	}

	select {
	case e.jobs <- job:
		metrics.ActiveJobs.Inc()
		return nil
	default:
		if deleteOnFull {
			e.store.DeleteJob(ctx, job.ID)
		}
		e.release(job.SessionID)
		return ErrQueueFull
	}
}

// Recover re-enqueues jobs that were persisted but never finished, e.g.
// after a restart. Jobs whose session is already terminal are dropped, jobs
// whose restart attempts are exhausted fail their session, and jobs that do
// not fit the queue stay persisted for the next recovery pass.
func (e *Executor) Recover(ctx context.Context) error {
	jobs, err := e.store.PendingJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		sess, err := e.mgr.Get(ctx, job.SessionID)
		if err != nil || sess.State.Terminal() {
			e.store.DeleteJob(ctx, job.ID)
			continue
		}
		job.Attempt++
		if job.Attempt > e.cfg.MaxAttempts {
			e.store.DeleteJob(ctx, job.ID)
			e.failRecovered(ctx, sess, "diagnosis failed: job retry attempts exhausted")
			continue
		}
		if err := e.enqueue(ctx, job, false); err != nil {
			switch {
			case errors.Is(err, ErrJobActive):
			case errors.Is(err, ErrQueueFull):
				e.log.Warn().Str("job", job.ID).Msg("queue full, job kept for next recovery")
			default:
				e.log.Warn().Err(err).Str("job", job.ID).Msg("could not recover job")
			}
		}
	}
	return nil
}

// failRecovered drives a non-terminal session to failed. Sessions recovered
// in pending state pass through processing first so the state machine holds.
func (e *Executor) failRecovered(ctx context.Context, sess *Session, detail string) {
	if sess.State == StatePending {
		if _, err := e.mgr.Transition(ctx, sess.ID, StateProcessing, Mutation{}); err != nil {
			e.log.Warn().Err(err).Str("session", sess.ID.String()).Msg("could not fail recovered session")
			return
		}
	}
	if _, err := e.mgr.Transition(ctx, sess.ID, StateFailed, Mutation{Error: detail}); err != nil {
		e.log.Warn().Err(err).Str("session", sess.ID.String()).Msg("could not fail recovered session")
		return
	}
	metrics.SessionsFinished.WithLabelValues(string(StateFailed)).Inc()
}

// ExpandInput walks the knowledge graph from a session's complaints and
// symptoms, with the same depth bound the pipeline uses.
func (e *Executor) ExpandInput(ctx context.Context, input PatientInput) (kg.Expansion, error) {
	terms := append(append([]string(nil), input.Complaints...), input.Symptoms...)
	return e.graph.Expand(ctx, terms, e.cfg.KGMaxDepth)
}

func (e *Executor) release(sessionID uuid.UUID) {
	e.mu.Lock()
	delete(e.active, sessionID)
	e.mu.Unlock()
}

func (e *Executor) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs:
			e.process(ctx, job)
		}
	}
}

func (e *Executor) process(ctx context.Context, job Job) {
	start := time.Now()
	log := e.log.With().Str("session", job.SessionID.String()).Str("job", job.ID).Logger()

	defer func() {
		e.store.DeleteJob(ctx, job.ID)
		e.release(job.SessionID)
		metrics.ActiveJobs.Dec()
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	if _, err := e.mgr.Transition(ctx, job.SessionID, StateProcessing, Mutation{}); err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			log.Info().Msg("session deleted before processing, job discarded")
		case errors.Is(err, ErrInvalidTransition):
			log.Warn().Msg("session no longer pending, job discarded")
		default:
			log.Error().Err(err).Msg("could not start job")
		}
		return
	}

	degraded := false

	// Case retrieval and graph expansion are independent; run them
	// concurrently.
	var (
		cases     []retrieval.Case
		expansion kg.Expansion
		searchErr error
		wg        sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		searchErr = e.withRetry(ctx, "retrieval", func(sc context.Context) error {
			var err error
			cases, err = e.search.Search(sc, BuildQuery(job.Input), job.Input.TopK)
			return err
		})
	}()
	go func() {
		defer wg.Done()
		sc, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
		defer cancel()
		terms := append(append([]string(nil), job.Input.Complaints...), job.Input.Symptoms...)
		exp, err := e.graph.Expand(sc, terms, e.cfg.KGMaxDepth)
		if err != nil {
			// Graph absence degrades silently to an empty expansion.
			log.Warn().Err(err).Msg("graph expansion failed, continuing without graph facts")
			exp = kg.Expansion{}
		}
		expansion = exp
	}()
	wg.Wait()

	if searchErr != nil {
		log.Warn().Err(searchErr).Msg("case retrieval unavailable, continuing with empty case list")
		cases = nil
		degraded = true
	}

	pc := ComposePrompt(job.Input, cases, expansion, e.cfg.Limits)

	result, fellBack, err := e.generate(ctx, pc, cases, job.Input.TopK)
	if err != nil {
		e.fail(ctx, job, log, err)
		return
	}
	degraded = degraded || fellBack

	if _, err := e.mgr.Transition(ctx, job.SessionID, StateCompleted, Mutation{Result: result, Degraded: degraded}); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			log.Info().Msg("session deleted mid-flight, result discarded")
		} else {
			log.Error().Err(err).Msg("could not commit result")
		}
		return
	}

	metrics.SessionsFinished.WithLabelValues(string(StateCompleted)).Inc()
	if degraded {
		metrics.DegradedResults.Inc()
	}
	log.Info().Bool("degraded", degraded).Dur("took", time.Since(start)).Msg("diagnosis completed")
}

// generate runs the primary provider with retries and falls back to the
// offline client on any provider failure, including a malformed payload.
// The returned bool reports whether the fallback served the request.
func (e *Executor) generate(ctx context.Context, pc llm.PromptContext, cases []retrieval.Case, topK int) (*Result, bool, error) {
	primary := e.provider
	if primary == nil {
		primary = e.fallback
	}

	var payload *llm.Payload
	err := e.withRetry(ctx, "generation", func(sc context.Context) error {
		var gerr error
		payload, gerr = primary.Generate(sc, pc)
		return gerr
	})
	if err == nil {
		result, nerr := Normalize(payload, cases, topK)
		if nerr == nil {
			return result, false, nil
		}
		err = nerr
	}

	if primary == e.fallback {
		// Offline generation has no further fallback; total generation
		// failure is terminal.
		return nil, false, err
	}

	e.log.Warn().Err(err).Str("provider", primary.Name()).Msg("generation failed, falling back to offline provider")
	metrics.ProviderFallbacks.Inc()

	payload, _ = e.fallback.Generate(ctx, pc)
	result, nerr := Normalize(payload, cases, topK)
	if nerr != nil {
		return nil, true, nerr
	}
	return result, true, nil
}

func (e *Executor) fail(ctx context.Context, job Job, log zerolog.Logger, cause error) {
	log.Error().Err(cause).Msg("diagnosis failed")
	if _, err := e.mgr.Transition(ctx, job.SessionID, StateFailed, Mutation{Error: "diagnosis failed: " + cause.Error()}); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			log.Info().Msg("session deleted mid-flight, failure discarded")
			return
		}
		log.Error().Err(err).Msg("could not record failure")
		return
	}
	metrics.SessionsFinished.WithLabelValues(string(StateFailed)).Inc()
}

// withRetry runs fn under the stage timeout, retrying transient failures
// with exponential backoff: base, 2*base, 4*base, ... up to MaxAttempts
// total attempts. Non-transient errors return immediately.
func (e *Executor) withRetry(ctx context.Context, stage string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		sc, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
		err = fn(sc)
		cancel()

		if err == nil || !transient(err) || attempt >= e.cfg.MaxAttempts {
			return err
		}

		backoff := e.cfg.RetryBase << (attempt - 1)
		metrics.StageRetries.WithLabelValues(stage).Inc()
		e.log.Warn().Err(err).Str("stage", stage).Int("attempt", attempt).Dur("backoff", backoff).Msg("transient stage failure, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func transient(err error) bool {
	return errors.Is(err, retrieval.ErrIndexUnavailable) ||
		errors.Is(err, llm.ErrTimeout) ||
		errors.Is(err, llm.ErrRateLimited)
}
