package pulling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	sysclock "github.com/snapscore/pipeline/internal/clock/system"
)

// Clock returns the current time. Overridable via WithClock so tests can
// exercise cooldown and periodic-schedule timing without sleeping.
type Clock interface {
	Now() time.Time
}

// BodyArchiver persists a response body somewhere durable. Optional;
// engaged only if configured via WithArchiver. Never consulted for
// admission — a fire-and-forget side effect (spec.md §1 Non-goals: no
// persistence of requests).
type BodyArchiver interface {
	Archive(ctx context.Context, fingerprint string, receivedAt time.Time, body []byte) error
}

// Notifier publishes a small completion envelope downstream. Optional.
type Notifier interface {
	Notify(ctx context.Context, resp FeedResponse) error
}

// AuditSink records one row per completed response for observability.
// Optional, and never a substitute for RequestRegistry as the source of
// truth for admission.
type AuditSink interface {
	RecordResponse(ctx context.Context, resp FeedResponse) error
}

// Observer receives fine-grained engine events for metrics wiring
// (internal/metrics implements this interface; the engine itself has no
// Prometheus dependency).
type Observer interface {
	OnAdmitted(priority Priority)
	OnDuplicateDropped(priority Priority)
	OnCooldownDeferred(priority Priority)
	OnHTTPResult(priority Priority, success bool, elapsed time.Duration)
	OnRetryDecision(priority Priority, gaveUp bool)
}

type noopObserver struct{}

func (noopObserver) OnAdmitted(Priority)                       {}
func (noopObserver) OnDuplicateDropped(Priority)                {}
func (noopObserver) OnCooldownDeferred(Priority)                {}
func (noopObserver) OnHTTPResult(Priority, bool, time.Duration) {}
func (noopObserver) OnRetryDecision(Priority, bool)             {}

// EngineConfig configures a PullingEngine.
type EngineConfig struct {
	RateLimits         [priorityCount]RateLimitConfig
	HTTPTimeout        time.Duration
	DeliveryWorkers    int
	DeliveryBuffer     int
	RescheduleInterval time.Duration // how often the engine sweeps DueRequests
	SelfReschedule     bool          // if false, an external driver (internal/scheduler) must call Sweep
}

// Option customises a PullingEngine at construction.
type Option func(*PullingEngine)

// WithArchiver attaches an optional response-body archiver.
func WithArchiver(a BodyArchiver) Option { return func(e *PullingEngine) { e.archiver = a } }

// WithNotifier attaches an optional completion notifier.
func WithNotifier(n Notifier) Option { return func(e *PullingEngine) { e.notifier = n } }

// WithAuditSink attaches an optional response audit sink.
func WithAuditSink(a AuditSink) Option { return func(e *PullingEngine) { e.audit = a } }

// WithObserver attaches a metrics/logging observer.
func WithObserver(o Observer) Option { return func(e *PullingEngine) { e.observer = o } }

// WithClock overrides the engine's time source. Defaults to the system
// clock; tests substitute a fake to assert cooldown/reschedule timing
// deterministically.
func WithClock(c Clock) Option { return func(e *PullingEngine) { e.clock = c } }

// PullingEngine orchestrates PriorityRateLimiter, RequestRegistry,
// HttpDispatcher and RetryPolicy (spec.md §4.5).
type PullingEngine struct {
	registry     *RequestRegistry
	limiter      *PriorityRateLimiter
	dispatcher   *HttpDispatcher
	defaultRetry RetryPolicy
	logger       *zap.Logger
	observer     Observer
	clock        Clock

	archiver BodyArchiver
	notifier Notifier
	audit    AuditSink

	cfg EngineConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlightMu     sync.Mutex
	inFlightCancel map[string]context.CancelFunc

	subMu       sync.Mutex
	subscribers map[int]chan FeedResponse
	nextSubID   int

	deliverCh  chan FeedResponse
	deliveryWG sync.WaitGroup

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
}

// NewPullingEngine builds and starts a PullingEngine: its delivery worker
// pool and, unless cfg.SelfReschedule is false, its internal reschedule
// sweep.
func NewPullingEngine(cfg EngineConfig, transportFactory TransportFactory, defaultRetry RetryPolicy, logger *zap.Logger, opts ...Option) *PullingEngine {
	if cfg.DeliveryWorkers <= 0 {
		cfg.DeliveryWorkers = 4
	}
	if cfg.DeliveryBuffer <= 0 {
		cfg.DeliveryBuffer = 256
	}
	if cfg.RescheduleInterval <= 0 {
		cfg.RescheduleInterval = 20 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &PullingEngine{
		registry:       NewRequestRegistry(),
		limiter:        NewPriorityRateLimiter(cfg.RateLimits, logger),
		dispatcher:     NewHttpDispatcher(transportFactory, cfg.HTTPTimeout, logger),
		defaultRetry:   defaultRetry,
		logger:         logger,
		observer:       noopObserver{},
		clock:          sysclock.New(),
		cfg:            cfg,
		ctx:            ctx,
		cancel:         cancel,
		inFlightCancel: make(map[string]context.CancelFunc),
		subscribers:    make(map[int]chan FeedResponse),
		deliverCh:      make(chan FeedResponse, cfg.DeliveryBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}

	for i := 0; i < cfg.DeliveryWorkers; i++ {
		e.deliveryWG.Add(1)
		go e.deliveryWorker()
	}

	if cfg.SelfReschedule {
		e.wg.Add(1)
		go e.rescheduleLoop()
	}

	return e
}

// Submit admits req and, if accepted, dispatches it asynchronously.
// Returns a *SubmissionRejected on DUPLICATE_DROP / COOLDOWN_DEFER /
// post-shutdown, nil on ADMITTED (spec.md §4.5).
func (e *PullingEngine) Submit(ctx context.Context, req FeedRequest) error {
	if e.shuttingDown.Load() {
		return &SubmissionRejected{Reason: ReasonShutdown, Fingerprint: req.Fingerprint()}
	}

	outcome, retryAt := e.registry.Admit(req, e.clock.Now())
	switch outcome {
	case Admitted:
		e.observer.OnAdmitted(req.Priority())
		e.wg.Add(1)
		go e.attempt(req)
		return nil
	case DuplicateDrop:
		e.observer.OnDuplicateDropped(req.Priority())
		return &SubmissionRejected{Reason: ReasonDuplicate, Fingerprint: req.Fingerprint()}
	default: // CooldownDefer
		e.observer.OnCooldownDeferred(req.Priority())
		return &SubmissionRejected{Reason: ReasonCooldown, Fingerprint: req.Fingerprint(), RetryAt: retryAt}
	}
}

// SchedulePeriodic admits a periodic req and returns an opaque Handle for
// later cancellation.
func (e *PullingEngine) SchedulePeriodic(ctx context.Context, req FeedRequest) (Handle, error) {
	if !req.IsPeriodic() {
		return Handle{}, NewProgrammingError("SchedulePeriodic requires a request built WithSchedule")
	}
	if err := e.Submit(ctx, req); err != nil {
		return Handle{}, err
	}
	h := newHandle()
	e.registry.RegisterHandle(h, req.Fingerprint())
	return h, nil
}

// Cancel marks the fingerprint behind handle CANCELLED. If it is currently
// in flight, the transport request is aborted best-effort and its error is
// suppressed from the response stream (spec.md §4.5).
func (e *PullingEngine) Cancel(handle Handle) error {
	fp, ok := e.registry.ResolveHandle(handle)
	if !ok {
		return &SubmissionRejected{Reason: ReasonInvalidHandle}
	}
	e.registry.Cancel(fp)

	e.inFlightMu.Lock()
	cancel, inFlight := e.inFlightCancel[fp]
	e.inFlightMu.Unlock()
	if inFlight {
		cancel()
	}
	return nil
}

// Responses returns a new subscription onto the hot, multicast response
// stream (spec.md §4.5). No global ordering is guaranteed across
// fingerprints; within one fingerprint, responses arrive in dispatch order
// because at most one request per fingerprint is ever in flight.
func (e *PullingEngine) Responses() <-chan FeedResponse {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	ch := make(chan FeedResponse, 64)
	e.subscribers[e.nextSubID] = ch
	e.nextSubID++
	return ch
}

// Shutdown stops accepting new submissions, drains in-flight requests for
// up to grace, then aborts anything still outstanding.
func (e *PullingEngine) Shutdown(grace time.Duration) {
	e.shutdownOnce.Do(func() {
		e.shuttingDown.Store(true)

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			e.cancel() // abort anything still outstanding
			<-done
		}

		e.dispatcher.Shutdown()
		close(e.deliverCh)
		e.deliveryWG.Wait()

		e.subMu.Lock()
		for _, ch := range e.subscribers {
			close(ch)
		}
		e.subscribers = nil
		e.subMu.Unlock()
	})
}

// deliveryWorker fans deliverCh out to every current subscriber. Bounded to
// cfg.DeliveryWorkers goroutines so a slow consumer cannot cause unbounded
// task spawning on the delivery side (spec.md §9 open question).
func (e *PullingEngine) deliveryWorker() {
	defer e.deliveryWG.Done()
	for resp := range e.deliverCh {
		e.subMu.Lock()
		subs := make([]chan FeedResponse, 0, len(e.subscribers))
		for _, ch := range e.subscribers {
			subs = append(subs, ch)
		}
		e.subMu.Unlock()
		for _, ch := range subs {
			select {
			case ch <- resp:
			default:
				if e.logger != nil {
					e.logger.Warn("dropping response for slow subscriber", zap.String("fingerprint", resp.Fingerprint))
				}
			}
		}
	}
}

// rescheduleLoop periodically resubmits fingerprints whose cooldown has
// elapsed, whether that cooldown came from a retry backoff or a periodic
// schedule's interval. Both cases are stored identically in the registry
// (COOLDOWN + nextEligible), so one sweep drives both (spec.md §4.2, §4.5).
func (e *PullingEngine) rescheduleLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RescheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.shuttingDown.Load() {
				return
			}
			e.Sweep()
		}
	}
}

// Sweep resubmits every currently-due fingerprint. Exposed so an external
// driver (internal/scheduler's cron job) can own the cadence instead of the
// engine's built-in ticker when cfg.SelfReschedule is false.
func (e *PullingEngine) Sweep() {
	if e.shuttingDown.Load() {
		return
	}
	for _, req := range e.registry.DueRequests(e.clock.Now()) {
		e.wg.Add(1)
		go e.attempt(req)
	}
}

// attempt runs one dispatch cycle for req: mark in flight, acquire a rate
// limit token, dispatch, then either publish the response or consult the
// retry policy.
func (e *PullingEngine) attempt(req FeedRequest) {
	defer e.wg.Done()

	fp := req.Fingerprint()
	attemptCtx, cancel := context.WithCancel(e.ctx)
	e.inFlightMu.Lock()
	e.inFlightCancel[fp] = cancel
	e.inFlightMu.Unlock()
	defer func() {
		e.inFlightMu.Lock()
		delete(e.inFlightCancel, fp)
		e.inFlightMu.Unlock()
		cancel()
	}()

	e.registry.MarkInFlight(fp, e.clock.Now())

	token, err := e.limiter.Acquire(attemptCtx, req.Priority())
	if err != nil {
		return // context cancelled (shutdown or explicit Cancel) before dispatch
	}

	resultCh := e.dispatcher.Send(attemptCtx, req)
	result := <-resultCh
	if relErr := e.limiter.Release(token); relErr != nil && e.logger != nil {
		e.logger.Error("rate limiter release failed", zap.Error(relErr))
	}

	entry, found := e.registry.Lookup(fp)
	if found && entry.State == StateCancelled {
		return // best-effort abort: suppress the outcome entirely
	}

	e.observer.OnHTTPResult(req.Priority(), result.Err == nil, result.Elapsed)

	if result.Err == nil {
		e.registry.MarkCompleted(fp, CompletionOutcome{Success: true}, e.clock.Now())
		resp := FeedResponse{
			Fingerprint: fp,
			Priority:    req.Priority(),
			StatusCode:  result.Status,
			Body:        result.Body,
			ReceivedAt:  e.clock.Now(),
			Elapsed:     result.Elapsed,
		}
		e.publish(resp)
		return
	}

	policy := req.RetryPolicy()
	if policy == nil {
		policy = e.defaultRetry
	}
	decision := policy.Decide(entry.AttemptCount, result.Err, req)
	e.observer.OnRetryDecision(req.Priority(), decision.GiveUp)
	e.registry.MarkCompleted(fp, CompletionOutcome{Success: false, Retry: &decision}, e.clock.Now())

	if decision.GiveUp && e.logger != nil {
		e.logger.Warn("feed pull gave up",
			zap.String("fingerprint", fp),
			zap.String("url", req.URL()),
			zap.Error(result.Err),
		)
	}
}

// publish enqueues resp for delivery and fans it out to the optional
// sinks. Sinks never gate emission: a slow or failing sink logs and moves
// on.
func (e *PullingEngine) publish(resp FeedResponse) {
	select {
	case e.deliverCh <- resp:
	default:
		if e.logger != nil {
			e.logger.Warn("delivery channel full, dropping response", zap.String("fingerprint", resp.Fingerprint))
		}
	}

	if e.archiver != nil {
		if err := e.archiver.Archive(e.ctx, resp.Fingerprint, resp.ReceivedAt, resp.Body); err != nil && e.logger != nil {
			e.logger.Warn("archive response body failed", zap.Error(err))
		}
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(e.ctx, resp); err != nil && e.logger != nil {
			e.logger.Warn("notify response failed", zap.Error(err))
		}
	}
	if e.audit != nil {
		if err := e.audit.RecordResponse(e.ctx, resp); err != nil && e.logger != nil {
			e.logger.Warn("audit response failed", zap.Error(err))
		}
	}
}
