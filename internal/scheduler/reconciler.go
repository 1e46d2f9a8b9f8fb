package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solar_leads_backend/internal/activity"
	"solar_leads_backend/internal/events"
	"solar_leads_backend/internal/matching"
	"solar_leads_backend/internal/offers"
	"solar_leads_backend/internal/revenue"
	"solar_leads_backend/internal/sourcing"
	"solar_leads_backend/platform/lock"
	"solar_leads_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	cycleLockName = "reconcile"

	CycleSucceeded = "success"
	CycleFailed    = "failed"
)

var (
	// ErrCycleInProgress is returned when a cycle is already running in this process.
	ErrCycleInProgress = errors.New("reconciliation cycle already running")
	// ErrCycleLocked is returned when another process holds the cycle lease.
	ErrCycleLocked = errors.New("reconciliation cycle held by another process")
)

type LeadMatcher interface {
	ProcessNewLeads(ctx context.Context) (matching.BatchResult, error)
}

type OfferSweeper interface {
	HandleExpiredOffers(ctx context.Context) (offers.SweepResult, error)
	ProcessAutoAcceptOffers(ctx context.Context) (int, error)
}

type LeadSourcer interface {
	ShouldRun(t time.Time) bool
	TopUp(ctx context.Context) (sourcing.Result, error)
}

type RevenueSweeper interface {
	Run(ctx context.Context) revenue.Result
}

type OutboxDispatcher interface {
	Dispatch(ctx context.Context) (int, error)
}

// Steps are the collaborators one cycle drives. Sourcing, Revenue and Outbox may be nil.
type Steps struct {
	Matcher  LeadMatcher
	Offers   OfferSweeper
	Sourcing LeadSourcer
	Revenue  RevenueSweeper
	Outbox   OutboxDispatcher
}

// CycleResult is what one cycle did.
type CycleResult struct {
	CycleID                 uuid.UUID     `json:"cycleId"`
	Status                  string        `json:"status"`
	StartedAt               time.Time     `json:"startedAt"`
	Duration                time.Duration `json:"duration"`
	Processed               int           `json:"processed"`
	OffersCreated           int           `json:"offersCreated"`
	ExpiredHandled          int           `json:"expiredHandled"`
	AutoAccepted            int           `json:"autoAccepted"`
	AIGenerated             int           `json:"aiGenerated"`
	Resold                  int           `json:"resold"`
	BonusesPaid             int           `json:"bonusesPaid"`
	AuctionsClosed          int           `json:"auctionsClosed"`
	ReferralsPaid           int           `json:"referralsPaid"`
	RefundsSwept            int           `json:"refundsSwept"`
	NotificationsDispatched int           `json:"notificationsDispatched"`
	Errors                  []string      `json:"errors,omitempty"`
}

func (r CycleResult) counts() map[string]int {
	return map[string]int{
		"processed":               r.Processed,
		"offersCreated":           r.OffersCreated,
		"expiredHandled":          r.ExpiredHandled,
		"autoAccepted":            r.AutoAccepted,
		"aiGenerated":             r.AIGenerated,
		"resold":                  r.Resold,
		"bonusesPaid":             r.BonusesPaid,
		"auctionsClosed":          r.AuctionsClosed,
		"referralsPaid":           r.ReferralsPaid,
		"refundsSwept":            r.RefundsSwept,
		"notificationsDispatched": r.NotificationsDispatched,
	}
}

// Status is the reconciler's externally visible state.
type Status struct {
	Running    bool         `json:"running"`
	Processing bool         `json:"processing"`
	Schedule   string       `json:"schedule"`
	LastRunAt  *time.Time   `json:"lastRunAt,omitempty"`
	LastResult *CycleResult `json:"lastResult,omitempty"`
}

// Reconciler runs the reconciliation cycle on a cron schedule. A cycle never
// overlaps another one, in this process or, with a locker, across processes.
type Reconciler struct {
	steps    Steps
	recorder *activity.Recorder
	bus      events.Bus
	locker   *lock.Locker
	lockTTL  time.Duration
	schedule string
	log      *logger.Logger
	now      func() time.Time

	cron       *cron.Cron
	running    atomic.Bool
	processing atomic.Bool

	mu         sync.RWMutex
	lastRunAt  *time.Time
	lastResult *CycleResult
}

func NewReconciler(steps Steps, recorder *activity.Recorder, bus events.Bus, schedule string, log *logger.Logger) *Reconciler {
	if schedule == "" {
		schedule = "@every 15m"
	}
	return &Reconciler{
		steps:    steps,
		recorder: recorder,
		bus:      bus,
		schedule: schedule,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker enables the cross-process lease. ttl should stay below the schedule interval.
func (r *Reconciler) SetLocker(locker *lock.Locker, ttl time.Duration) {
	r.locker = locker
	r.lockTTL = ttl
}

func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Start registers the cycle with cron and starts it.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.running.Load() {
		return nil
	}
	cl := cronLogger{log: r.log}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(r.schedule, func() { _, _ = r.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", r.schedule, err)
	}
	r.cron = c
	c.Start()
	r.running.Store(true)
	r.log.Info("reconciler started", "schedule", r.schedule)
	return nil
}

// Stop stops the schedule and waits for a running cycle to finish.
func (r *Reconciler) Stop() {
	if !r.running.CompareAndSwap(true, false) || r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.log.Info("reconciler stopped")
}

func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Status{
		Running:    r.running.Load(),
		Processing: r.processing.Load(),
		Schedule:   r.schedule,
		LastRunAt:  r.lastRunAt,
	}
	if r.lastResult != nil {
		res := *r.lastResult
		st.LastResult = &res
	}
	return st
}

// RunCycle executes one reconciliation cycle. Each step runs even when an
// earlier one failed.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleResult, error) {
	if !r.processing.CompareAndSwap(false, true) {
		r.log.Warn("reconciliation cycle skipped; previous cycle still running")
		return CycleResult{}, ErrCycleInProgress
	}
	defer r.processing.Store(false)

	if r.locker != nil {
		lease, err := r.locker.TryAcquire(ctx, cycleLockName, r.lockTTL)
		if err != nil {
			r.log.Error("reconciliation lease unavailable; cycle skipped", "error", err)
			return CycleResult{}, err
		}
		if lease == nil {
			r.log.Info("reconciliation cycle skipped; lease held by another process")
			return CycleResult{}, ErrCycleLocked
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("reconciliation lease release failed", "error", err)
			}
		}()
	}

	started := r.now()
	wallStart := time.Now()
	res := CycleResult{CycleID: uuid.New(), StartedAt: started}
	ctx = context.WithValue(ctx, logger.CycleIDKey, res.CycleID.String())
	log := r.log.WithContext(ctx)
	log.Info("reconciliation cycle started")

	var stepErrs []error
	step := func(name string, fn func() (int, error)) {
		t0 := time.Now()
		count, err := runStep(fn)
		log.CycleStep(name, count, time.Since(t0), err)
		if err != nil {
			stepErrs = append(stepErrs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("process_new_leads", func() (int, error) {
		batch, err := r.steps.Matcher.ProcessNewLeads(ctx)
		res.Processed = batch.Processed
		res.OffersCreated = batch.OffersCreated
		return batch.Processed, err
	})
	step("handle_expired_offers", func() (int, error) {
		sweep, err := r.steps.Offers.HandleExpiredOffers(ctx)
		res.ExpiredHandled = sweep.OffersExpired
		return sweep.OffersExpired, err
	})
	step("auto_accept_offers", func() (int, error) {
		n, err := r.steps.Offers.ProcessAutoAcceptOffers(ctx)
		res.AutoAccepted = n
		return n, err
	})
	if r.steps.Sourcing != nil && r.steps.Sourcing.ShouldRun(started) {
		step("ai_lead_topup", func() (int, error) {
			out, err := r.steps.Sourcing.TopUp(ctx)
			res.AIGenerated = out.Saved
			return out.Saved, err
		})
	}
	if r.steps.Revenue != nil {
		step("revenue_sweep", func() (int, error) {
			out := r.steps.Revenue.Run(ctx)
			res.Resold = out.Resold
			res.BonusesPaid = out.BonusesPaid
			res.AuctionsClosed = out.AuctionsClosed
			res.ReferralsPaid = out.ReferralsPaid
			res.RefundsSwept = out.Refunds.Processed
			total := out.Resold + out.BonusesPaid + out.AuctionsClosed + out.ReferralsPaid + out.Refunds.Processed
			if out.Failed > 0 {
				return total, fmt.Errorf("%d revenue units failed", out.Failed)
			}
			return total, nil
		})
	}
	if r.steps.Outbox != nil {
		step("dispatch_notifications", func() (int, error) {
			n, err := r.steps.Outbox.Dispatch(ctx)
			res.NotificationsDispatched = n
			return n, err
		})
	}

	res.Duration = time.Since(wallStart)
	res.Status = CycleSucceeded
	cycleErr := errors.Join(stepErrs...)
	if cycleErr != nil {
		res.Status = CycleFailed
		for _, err := range stepErrs {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	r.record(ctx, res, cycleErr)

	r.mu.Lock()
	finished := r.now()
	r.lastRunAt = &finished
	r.lastResult = &res
	r.mu.Unlock()

	log.Info("reconciliation cycle completed", "status", res.Status, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (r *Reconciler) record(ctx context.Context, res CycleResult, cycleErr error) {
	counts := res.counts()
	metadata := make(map[string]any, len(counts)+2)
	for k, v := range counts {
		metadata[k] = v
	}
	metadata["duration"] = res.Duration.Milliseconds()
	metadata["cycleId"] = res.CycleID.String()

	r.recorder.Record(ctx, activity.Entry{
		Type:           activity.TypeLeadMatching,
		Description:    "reconciliation cycle",
		StartedAt:      res.StartedAt,
		Err:            cycleErr,
		LeadsGenerated: res.AIGenerated,
		LeadsQualified: res.Processed,
		OffersCreated:  res.OffersCreated,
		Metadata:       metadata,
	})

	if r.bus != nil {
		r.bus.Publish(ctx, events.CycleCompleted{
			BaseEvent: events.NewBaseEvent(),
			CycleID:   res.CycleID,
			Status:    res.Status,
			Counts:    counts,
		})
	}
}

func runStep(fn func() (int, error)) (count int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("step panic: %v", p)
		}
	}()
	return fn()
}

// cronLogger adapts the slog wrapper to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		c.log.Warn("reconciliation tick skipped; previous cycle still running")
		return
	}
	c.log.Debug("cron "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error("cron "+msg, append(keysAndValues, "error", err)...)
}
