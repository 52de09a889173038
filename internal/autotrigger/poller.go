// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package autotrigger fires a recording when the status feed reports a new
// qualifying failure, at most once per failure episode.
//
// The poller is armed by a record with fail_reason 0 and disarmed right
// after it fires. A failure that persists across polls therefore produces
// a single recording until the feed reports a clean record again.
package autotrigger

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/metrics"
	"github.com/ManuGH/trigcam/internal/recorder"
	"github.com/ManuGH/trigcam/internal/statusfeed"
	"github.com/ManuGH/trigcam/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// Source labels triggers fired by the poller.
const Source = "auto"

const cancelledState = "cancelled"

// Feed returns the most recent status record.
type Feed interface {
	Latest(ctx context.Context) (statusfeed.Record, error)
}

// Triggerer starts recordings.
type Triggerer interface {
	Trigger(ctx context.Context, source string) recorder.Result
}

// Policy decides which records count as a real failure.
type Policy struct {
	FailureCodes     []int
	RequireCancelled bool
}

func (p Policy) qualifies(rec statusfeed.Record) bool {
	if !slices.Contains(p.FailureCodes, rec.FailReason) {
		return false
	}
	return !p.RequireCancelled || strings.EqualFold(rec.State, cancelledState)
}

// Decision is the outcome of evaluating one record.
type Decision string

const (
	DecisionNone    Decision = "noop"
	DecisionRearmed Decision = "rearmed"
	DecisionFired   Decision = "fired"
	DecisionBusy    Decision = "busy"
)

// Config controls the poll loop.
type Config struct {
	PollInterval time.Duration
	RetryDelay   time.Duration
	StartArmed   bool
	Policy       Policy
}

// Status is a read-only view of the poller.
type Status struct {
	Armed          bool      `json:"armed"`
	LastRecordID   int       `json:"last_record_id"`
	LastState      string    `json:"last_state"`
	LastFailReason int       `json:"last_fail_reason"`
	LastPollAt     time.Time `json:"last_poll_at,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
	LastDecision   Decision  `json:"last_decision,omitempty"`
	Fired          int       `json:"fired"`
	FailureCodes   []int     `json:"failure_codes"`
}

// Poller polls the feed and runs the arm/disarm state machine.
type Poller struct {
	cfg    Config
	feed   Feed
	trig   Triggerer
	logger zerolog.Logger

	policy atomic.Pointer[Policy]
	// firing is the single in-flight permit, claimed before any decision.
	firing atomic.Bool

	mu     sync.Mutex
	armed  bool
	status Status
}

// New returns a poller. It starts disarmed unless cfg.StartArmed is set.
func New(cfg Config, feed Feed, trig Triggerer) *Poller {
	p := &Poller{
		cfg:    cfg,
		feed:   feed,
		trig:   trig,
		logger: log.WithComponent("autotrigger"),
		armed:  cfg.StartArmed,
	}
	policy := cfg.Policy
	p.policy.Store(&policy)
	metrics.SetAutoTriggerArmed(p.armed)
	return p
}

// SetPolicy swaps the failure policy; used on config reload.
func (p *Poller) SetPolicy(policy Policy) {
	policy.FailureCodes = slices.Clone(policy.FailureCodes)
	p.policy.Store(&policy)
	p.logger.Info().
		Str(log.FieldEvent, "autotrigger.policy_updated").
		Ints("failure_codes", policy.FailureCodes).
		Bool("require_cancelled", policy.RequireCancelled).
		Msg("auto-trigger policy updated")
}

// Armed reports whether the next qualifying failure will fire.
func (p *Poller) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Status returns the poller state for the API.
func (p *Poller) Status() Status {
	p.mu.Lock()
	s := p.status
	s.Armed = p.armed
	p.mu.Unlock()
	s.FailureCodes = slices.Clone(p.policy.Load().FailureCodes)
	return s
}

// Run polls until ctx is cancelled. Fetch errors back off for RetryDelay
// and never end the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Str(log.FieldEvent, "autotrigger.started").
		Dur("interval", p.cfg.PollInterval).
		Bool("armed", p.Armed()).
		Msg("auto-trigger poller started")
	defer p.logger.Info().Str(log.FieldEvent, "autotrigger.stopped").Msg("auto-trigger poller stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		delay := p.cfg.PollInterval
		if err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn().Err(err).
				Str(log.FieldEvent, "autotrigger.fetch_failed").
				Dur("retry_in", p.cfg.RetryDelay).
				Msg("status feed fetch failed")
			delay = p.cfg.RetryDelay
		}
		timer.Reset(delay)
	}
}

// Tick fetches the latest record and evaluates it.
func (p *Poller) Tick(ctx context.Context) error {
	ctx, span := telemetry.Tracer("trigcam/autotrigger").Start(ctx, "autotrigger.poll")
	defer span.End()

	rec, err := p.feed.Latest(ctx)

	p.mu.Lock()
	p.status.LastPollAt = time.Now()
	if err != nil {
		p.status.LastError = err.Error()
	} else {
		p.status.LastError = ""
	}
	p.mu.Unlock()

	if err != nil {
		metrics.RecordAutoTriggerPoll("error")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(telemetry.AutoTriggerAttributes(rec.ID, rec.State, rec.FailReason)...)
	decision := p.Evaluate(ctx, rec)
	span.AddEvent("autotrigger." + string(decision))
	return nil
}

// Evaluate applies one record to the state machine and fires the trigger
// when an armed poller sees a qualifying failure.
func (p *Poller) Evaluate(ctx context.Context, rec statusfeed.Record) Decision {
	if !p.firing.CompareAndSwap(false, true) {
		metrics.RecordAutoTriggerPoll(string(DecisionBusy))
		return DecisionBusy
	}
	defer p.firing.Store(false)

	policy := p.policy.Load()

	p.mu.Lock()
	p.status.LastRecordID = rec.ID
	p.status.LastState = rec.State
	p.status.LastFailReason = rec.FailReason

	decision := DecisionNone
	switch {
	case rec.FailReason == 0:
		if !p.armed {
			p.armed = true
			decision = DecisionRearmed
		}
	case policy.qualifies(rec) && p.armed:
		p.armed = false
		p.status.Fired++
		decision = DecisionFired
	}
	p.status.LastDecision = decision
	p.mu.Unlock()

	metrics.RecordAutoTriggerPoll(string(decision))

	switch decision {
	case DecisionRearmed:
		metrics.SetAutoTriggerArmed(true)
		p.logger.Info().
			Str(log.FieldEvent, "autotrigger.rearmed").
			Int(log.FieldRecordID, rec.ID).
			Msg("status clear, auto-trigger armed")
	case DecisionFired:
		metrics.SetAutoTriggerArmed(false)
		res := p.trig.Trigger(ctx, Source)
		p.logger.Info().
			Str(log.FieldEvent, "autotrigger.fired").
			Int(log.FieldRecordID, rec.ID).
			Str("state", rec.State).
			Int("fail_reason", rec.FailReason).
			Str("fail_reason_str", rec.FailReasonStr).
			Bool("accepted", res.Accepted).
			Str("message", res.Message).
			Msg("failure detected, trigger fired and auto-trigger disarmed")
	}
	return decision
}
