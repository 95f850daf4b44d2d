package campaign

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/metrics"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/pkg/retry"
	"github.com/ignite/campaign-mailer/internal/provider"
	"github.com/ignite/campaign-mailer/internal/render"
	"github.com/ignite/campaign-mailer/internal/store"
	"github.com/ignite/campaign-mailer/internal/throttle"
)

const defaultLockTTL = 30 * time.Minute

var validate = validator.New()

// Run is the input of one campaign run.
type Run struct {
	// CampaignID groups the outcomes. A new UUID is assigned when empty.
	CampaignID string
	Recipients []domain.Recipient
	Template   domain.Template
	// BaseVariables are shared by every recipient. Recipient columns win.
	BaseVariables map[string]string
	Provider      domain.ProviderConfig
}

// Runner executes campaign runs against a Status Store. It is safe for
// concurrent use; each Run call is independent.
type Runner struct {
	store       store.Store
	factory     ProviderFactory
	concurrency int
	retry       retry.Policy
	throttle    throttle.Throttle
	locker      distlock.Locker
	lockTTL     time.Duration
	metrics     *metrics.Registry
	hook        OutcomeHook
	emailColumn string
	idColumn    string
	renderOpts  render.Options
	clock       Clock
}

// NewRunner creates a runner that records outcomes in st.
func NewRunner(st store.Store, opts ...Option) *Runner {
	r := &Runner{
		store:       st,
		factory:     DefaultProviderFactory,
		concurrency: 1,
		retry:       retry.DefaultPolicy(),
		lockTTL:     defaultLockTTL,
		emailColumn: domain.DefaultEmailColumn,
		clock:       realClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes every recipient and returns the aggregated result.
//
// Outcomes in the result follow input order. Cancelling ctx stops new
// deliveries; recipients not yet finished are recorded as failed with
// reason "cancelled". If an outcome cannot be recorded, no further
// recipients are started and the partial result, including the outcome
// that failed to record, is returned with a *PersistenceError.
func (r *Runner) Run(ctx context.Context, run Run) (*domain.CampaignResult, error) {
	if run.Template.IsEmpty() {
		return nil, &ValidationError{Field: "template", Err: render.ErrEmptyTemplate}
	}
	if err := run.Provider.Validate(); err != nil {
		return nil, &ValidationError{Field: "provider", Err: err}
	}
	if run.CampaignID == "" {
		run.CampaignID = uuid.New().String()
	}

	release, err := r.lock(ctx, run.CampaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := r.factory(ctx, run.Provider)
	if err != nil {
		return nil, &ValidationError{Field: "provider", Err: err}
	}

	exec := &execution{
		Runner:   r,
		run:      run,
		provider: p,
		outcomes: make([]*domain.DeliveryOutcome, len(run.Recipients)),
	}

	logger.Info("Campaign run started",
		"campaign_id", run.CampaignID,
		"provider", string(p.Name()),
		"recipients", len(run.Recipients),
		"concurrency", r.concurrency,
	)
	r.metrics.RunStarted()
	started := r.clock.Now()

	runErr := exec.process(ctx)

	result := &domain.CampaignResult{
		CampaignID: run.CampaignID,
		Provider:   p.Name(),
		Outcomes:   make([]domain.DeliveryOutcome, 0, len(run.Recipients)),
		StartedAt:  started,
		FinishedAt: r.clock.Now(),
	}
	for _, o := range exec.outcomes {
		if o != nil {
			result.Add(*o)
		}
	}

	status := metrics.RunCompleted
	switch {
	case runErr != nil:
		status = metrics.RunFailed
	case ctx.Err() != nil:
		status = metrics.RunCancelled
	}
	r.metrics.RunFinished(status)

	logger.Info("Campaign run finished",
		"campaign_id", run.CampaignID,
		"status", status,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"success_rate", fmt.Sprintf("%.1f%%", result.SuccessRate()),
		"duration", result.FinishedAt.Sub(started).String(),
	)
	return result, runErr
}

// lock takes the per-campaign lock and keeps its lease alive for the run.
func (r *Runner) lock(ctx context.Context, campaignID string) (func(), error) {
	if r.locker == nil {
		return func() {}, nil
	}
	l := r.locker.NewLock(campaignID, r.lockTTL)
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire campaign lock: %w", err)
	}
	if !ok {
		return nil, ErrCampaignLocked
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if ext, ok := l.(distlock.Extender); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(r.lockTTL / 2)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if err := ext.Extend(context.WithoutCancel(ctx), r.lockTTL); err != nil {
						logger.Warn("Campaign lock extend failed", "campaign_id", campaignID, "error", err)
					}
				}
			}
		}()
	}

	return func() {
		close(stop)
		wg.Wait()
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Campaign lock release failed", "campaign_id", campaignID, "error", err)
		}
	}, nil
}

// execution is the state of one Run call.
type execution struct {
	*Runner
	run      Run
	provider provider.Provider

	// outcomes is indexed by recipient position; each slot is written by
	// exactly one goroutine.
	outcomes []*domain.DeliveryOutcome
	halted   atomic.Bool

	hookMu sync.Mutex
	done   int
}

func (e *execution) process(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i := range e.run.Recipients {
		if e.halted.Load() {
			break
		}
		g.Go(func() error {
			if e.halted.Load() {
				return nil
			}
			return e.processOne(ctx, i)
		})
	}
	return g.Wait()
}

// processOne produces and records the outcome for recipient i.
func (e *execution) processOne(ctx context.Context, i int) error {
	rcpt := e.run.Recipients[i]
	email, hasEmail := rcpt.Email(e.emailColumn)
	o := domain.DeliveryOutcome{
		ID:          uuid.New().String(),
		CampaignID:  e.run.CampaignID,
		RecipientID: RecipientID(rcpt, i, e.idColumn, e.emailColumn),
		Email:       email,
		Provider:    e.provider.Name(),
	}

	switch {
	case ctx.Err() != nil:
		o.Status, o.Reason = domain.OutcomeFailed, domain.ReasonCancelled
	case !hasEmail || email == "":
		o.Status, o.Reason = domain.OutcomeSkipped, "missing email address"
	case validate.Var(email, "email") != nil:
		o.Status, o.Reason = domain.OutcomeSkipped, fmt.Sprintf("invalid email address: %q", email)
	default:
		e.send(ctx, rcpt, email, &o)
	}

	return e.record(ctx, i, o)
}

// send renders and delivers, filling the outcome's status.
func (e *execution) send(ctx context.Context, rcpt domain.Recipient, email string, o *domain.DeliveryOutcome) {
	msg, err := render.RenderWithOptions(e.run.Template, rcpt.Merge(e.run.BaseVariables), e.renderOpts)
	if err != nil {
		o.Status, o.Reason = domain.OutcomeSkipped, err.Error()
		return
	}

	ack, attempts, err := e.deliver(ctx, &domain.EmailMessage{
		ID:          o.ID,
		CampaignID:  o.CampaignID,
		RecipientID: o.RecipientID,
		To:          email,
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
		Headers:     map[string]string{"X-Campaign-ID": o.CampaignID},
	})
	o.Attempts = attempts
	switch {
	case err == nil:
		o.Status, o.MessageID = domain.OutcomeSent, ack.MessageID
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		o.Status, o.Reason = domain.OutcomeFailed, domain.ReasonCancelled
	case attempts >= e.retry.MaxAttempts && provider.IsTransient(err):
		o.Status, o.Reason = domain.OutcomeFailed, fmt.Sprintf("gave up after %d attempts: %v", attempts, err)
	default:
		o.Status, o.Reason = domain.OutcomeFailed, err.Error()
	}
}

// deliver makes up to MaxAttempts attempts, retrying only transient
// failures. It returns the number of attempts made.
func (e *execution) deliver(ctx context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, int, error) {
	name := string(e.provider.Name())
	for attempt := 1; ; attempt++ {
		if e.throttle != nil {
			if err := e.throttle.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, attempt - 1, ctx.Err()
				}
				return nil, attempt - 1, err
			}
		}

		start := e.clock.Now()
		ack, err := e.provider.Deliver(ctx, msg)
		elapsed := e.clock.Now().Sub(start)
		if err == nil {
			e.metrics.RecordAttempt(name, metrics.AttemptSuccess, elapsed)
			return ack, attempt, nil
		}
		if ctx.Err() != nil {
			e.metrics.RecordAttempt(name, metrics.AttemptCancelled, elapsed)
			return nil, attempt, ctx.Err()
		}
		if !provider.IsTransient(err) {
			e.metrics.RecordAttempt(name, metrics.AttemptPermanent, elapsed)
			return nil, attempt, err
		}
		e.metrics.RecordAttempt(name, metrics.AttemptTransient, elapsed)
		if attempt >= e.retry.MaxAttempts {
			return nil, attempt, err
		}

		wait := e.retry.Delay(attempt)
		if ra := provider.RetryAfter(err); ra > wait {
			wait = min(ra, e.retry.MaxDelay)
		}
		logger.Debug("Transient delivery failure, retrying",
			"campaign_id", msg.CampaignID,
			"to", msg.To,
			"attempt", attempt,
			"wait", wait.String(),
			"error", err,
		)
		if err := e.clock.Sleep(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}
}

// record persists o. Persistence uses a context detached from
// cancellation so a cancelled run still records its cancelled outcomes.
func (e *execution) record(ctx context.Context, i int, o domain.DeliveryOutcome) error {
	o.RecordedAt = e.clock.Now()
	if err := e.store.Record(context.WithoutCancel(ctx), o); err != nil {
		e.halted.Store(true)
		e.outcomes[i] = &o
		logger.Error("Outcome could not be recorded, halting run",
			"campaign_id", o.CampaignID,
			"recipient_id", o.RecipientID,
			"status", string(o.Status),
			"error", err,
		)
		return &PersistenceError{Outcome: o, Err: err}
	}
	e.outcomes[i] = &o
	e.metrics.RecordOutcome(string(o.Provider), string(o.Status))

	logger.Debug("Outcome recorded",
		"campaign_id", o.CampaignID,
		"recipient", o.Email,
		"status", string(o.Status),
		"reason", o.Reason,
		"attempts", o.Attempts,
	)

	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.done++
	if e.hook != nil {
		e.hook(e.done, len(e.run.Recipients), o)
	}
	return nil
}

// RecipientID identifies a recipient within a campaign: the id column
// when configured and present, else the address, else the 1-based row.
// A row id depends on the position in the list being run, so it is only
// meaningful within that run; such rows have no address and are never sent.
func RecipientID(rcpt domain.Recipient, index int, idColumn, emailColumn string) string {
	if id, ok := stableID(rcpt, idColumn, emailColumn); ok {
		return id
	}
	return "row:" + strconv.Itoa(index+1)
}

// stableID returns the id column value or the address, whichever comes
// first; both survive a change in list order.
func stableID(rcpt domain.Recipient, idColumn, emailColumn string) (string, bool) {
	if idColumn != "" {
		if v, ok := rcpt.Lookup(idColumn); ok && v != "" {
			return v, true
		}
	}
	if email, ok := rcpt.Email(emailColumn); ok && email != "" {
		return email, true
	}
	return "", false
}
