package alerts

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/atomic"
	"golang.org/x/exp/maps"

	"fundwatch/internal/logging"
	"fundwatch/internal/models"
	"fundwatch/internal/notify"
	"fundwatch/internal/store"
	"fundwatch/pkg/utils"
)

// Snapshotter produces one reconciled snapshot per instrument code.
type Snapshotter interface {
	Snapshot(ctx context.Context, code string) models.InstrumentSnapshot
}

// Emitter creates and delivers a notification.
type Emitter interface {
	Emit(ctx context.Context, msg notify.Message) (*models.Notification, error)
}

// Reasons a tick did no work.
const (
	SkipOutsideWindow = "outside trading window"
	SkipOverlap       = "previous tick still running"
	SkipNoRules       = "no enabled rules"
	SkipCancelled     = "cancelled"
	SkipStoreError    = "rule store unavailable"
	SkipPanic         = "panic recovered"
)

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	Interval   time.Duration
	FetchPause time.Duration
	Window     utils.TradingWindow
	Workers    int
}

// DefaultSchedulerConfig returns a 5 minute cadence over the default window.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   5 * time.Minute,
		FetchPause: 200 * time.Millisecond,
		Window:     utils.DefaultTradingWindow(),
		Workers:    4,
	}
}

// TickReport summarises one tick.
type TickReport struct {
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Rules       int           `json:"rules"`
	Instruments int           `json:"instruments"`
	Fetched     int           `json:"fetched"`
	Empty       int           `json:"empty"`
	Fired       int           `json:"fired"`
	Cooling     int           `json:"cooling"`
	Failed      int           `json:"failed"`
	Skipped     string        `json:"skipped,omitempty"`
}

func (r TickReport) String() string {
	if r.Skipped != "" {
		return fmt.Sprintf("skipped: %s", r.Skipped)
	}
	return fmt.Sprintf("rules=%d instruments=%d fetched=%d empty=%d fired=%d cooling=%d failed=%d in %s",
		r.Rules, r.Instruments, r.Fetched, r.Empty, r.Fired, r.Cooling, r.Failed, r.Duration.Round(time.Millisecond))
}

// Scheduler periodically evaluates every enabled rule during the trading
// window. At most one tick runs at a time; a tick that finds another still
// running is skipped.
type Scheduler struct {
	cfg       SchedulerConfig
	rules     store.RuleStore
	snapshots Snapshotter
	emitter   Emitter
	cooldown  *Cooldown
	logger    zerolog.Logger

	running atomic.Bool
	now     func() time.Time
	pause   func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	last *TickReport
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig, rules store.RuleStore, snapshots Snapshotter, emitter Emitter, cooldown *Cooldown, logger zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerConfig().Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cooldown == nil {
		cooldown = NewCooldown(rules, DefaultCooldown)
	}
	return &Scheduler{
		cfg:       cfg,
		rules:     rules,
		snapshots: snapshots,
		emitter:   emitter,
		cooldown:  cooldown,
		logger:    logging.WithComponent(logger, "scheduler"),
		now:       time.Now,
		pause:     sleepContext,
	}
}

// Run ticks once immediately and then every Interval until ctx is done.
// Each tick runs on its own goroutine so a slow tick never delays the timer;
// the overlap guard drops ticks that would run concurrently.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("workers", s.cfg.Workers).
		Msg("Alert scheduler started")

	var wg sync.WaitGroup
	spawn := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(ctx)
		}()
	}

	spawn()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info().Msg("Alert scheduler stopped")
			return nil
		case <-ticker.C:
			spawn()
		}
	}
}

// Tick runs one gated tick.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	return s.RunOnce(ctx, false)
}

// RunOnce runs one tick. force bypasses the trading window gate but not the
// overlap guard.
func (s *Scheduler) RunOnce(ctx context.Context, force bool) (report TickReport) {
	now := s.now()
	report.Started = now

	if !force && !s.cfg.Window.Contains(now) {
		report.Skipped = SkipOutsideWindow
		s.logger.Debug().
			Str("status", string(s.cfg.Window.Status(now))).
			Msg("Outside trading window, tick skipped")
		return report
	}

	if !s.running.CAS(false, true) {
		report.Skipped = SkipOverlap
		s.logger.Warn().Msg("Previous tick still running, tick skipped")
		return report
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			report.Skipped = SkipPanic
			s.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Tick panicked")
		}
		report.Duration = s.now().Sub(now)
		s.record(report)
	}()

	s.tick(ctx, now, &report)

	s.logger.Info().
		Int("rules", report.Rules).
		Int("instruments", report.Instruments).
		Int("fired", report.Fired).
		Int("cooling", report.Cooling).
		Int("failed", report.Failed).
		Str("skipped", report.Skipped).
		Msg("Tick completed")
	return report
}

func (s *Scheduler) tick(ctx context.Context, now time.Time, report *TickReport) {
	rules, err := s.rules.ListEnabledRules(ctx)
	if err != nil {
		report.Skipped = SkipStoreError
		s.logger.Error().Err(err).Msg("Failed to load enabled rules")
		return
	}
	report.Rules = len(rules)
	if len(rules) == 0 {
		report.Skipped = SkipNoRules
		return
	}

	codes := Instruments(rules)
	report.Instruments = len(codes)

	snapshots := make(map[string]models.InstrumentSnapshot, len(codes))
	for i, code := range codes {
		if i > 0 {
			if err := s.pause(ctx, s.cfg.FetchPause); err != nil {
				report.Skipped = SkipCancelled
				return
			}
		}
		snap := s.snapshots.Snapshot(ctx, code)
		report.Fetched++
		if snap.Empty() {
			report.Empty++
		}
		snapshots[code] = snap
	}

	var fired, cooling, failed atomic.Int32

	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for _, rule := range rules {
		rule := rule
		snap := snapshots[rule.InstrumentCode]
		p.Go(func() {
			switch s.evaluate(ctx, rule, snap, now) {
			case outcomeFired:
				fired.Inc()
			case outcomeCooling:
				cooling.Inc()
			case outcomeFailed:
				failed.Inc()
			}
		})
	}
	p.Wait()

	report.Fired = int(fired.Load())
	report.Cooling = int(cooling.Load())
	report.Failed = int(failed.Load())
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeFired
	outcomeCooling
	outcomeFailed
)

// evaluate runs one rule. The rule is marked only after its notification
// was stored, so a failed emit is retried on the next tick.
func (s *Scheduler) evaluate(ctx context.Context, rule models.AlertRule, snap models.InstrumentSnapshot, now time.Time) outcome {
	if snap.Empty() {
		return outcomeNone
	}
	if s.cooldown.Active(rule, now) {
		return outcomeCooling
	}

	if rule.InstrumentName == "" {
		rule.InstrumentName = snap.Name
	}

	trigger, ok := Evaluate(rule, snap)
	if !ok {
		return outcomeNone
	}

	log := logging.WithUser(logging.WithInstrument(s.logger, rule.InstrumentCode), rule.OwnerID)

	_, err := s.emitter.Emit(ctx, notify.Message{
		RecipientID: rule.OwnerID,
		Title:       trigger.Title,
		Body:        trigger.Reason(),
		Kind:        trigger.Kind,
	})
	if err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("Failed to emit alert")
		return outcomeFailed
	}

	if err := s.cooldown.Mark(ctx, rule.ID, s.now()); err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("Failed to mark rule triggered")
		return outcomeFailed
	}

	logging.LogAlert(s.logger, rule.ID, rule.OwnerID, rule.InstrumentCode, trigger.Reason())
	return outcomeFired
}

func (s *Scheduler) record(report TickReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &report
}

// LastReport returns the report of the most recent tick that ran.
func (s *Scheduler) LastReport() (TickReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return TickReport{}, false
	}
	return *s.last, true
}

// Instruments returns the distinct instrument codes of rules in sorted order.
func Instruments(rules []models.AlertRule) []string {
	set := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		set[r.InstrumentCode] = struct{}{}
	}
	codes := maps.Keys(set)
	sort.Strings(codes)
	return codes
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
