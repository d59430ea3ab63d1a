// Package coordinate ties event classification, transcript counting, locking,
// throttling, and state persistence into the decision pipeline that launches
// compression runs. Every failure inside the pipeline degrades to a no-op
// decision: the coordinator must never surface an error to the agent host.
package coordinate

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/om/internal/audit"
	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/hookevent"
	"github.com/basket/om/internal/lockdir"
	omotel "github.com/basket/om/internal/otel"
	"github.com/basket/om/internal/state"
	"github.com/basket/om/internal/telemetry"
	"github.com/basket/om/internal/throttle"
	"github.com/basket/om/internal/transcript"
)

// Actions a pipeline pass can decide on.
const (
	ActionRun  = "run"
	ActionSkip = "skip"
	ActionNoop = "noop"
)

// No-op reasons, beyond the skip reasons the throttle package defines.
const (
	ReasonTranscriptMissing = "transcript_missing"
	ReasonObserverMissing   = "observer_missing"
	ReasonCheckpointsOff    = "checkpoints_disabled"
	ReasonLockHeld          = "lock_held"
	ReasonLockError         = "lock_error"
	ReasonLaunchError       = "launch_error"
)

// Decision is the outcome of one pipeline pass, for logging and tests.
type Decision struct {
	Action string
	Reason string
	RunID  string
}

// Request describes one compression run handed to a Launcher. The lock for
// Transcript is held by the caller at launch time and ownership transfers to
// the runner, which must release it when the subprocess finishes.
type Request struct {
	Transcript string
	Source     string
	Kind       hookevent.Kind
	RunID      string
}

// Launcher starts the compression run for an acquired transcript lock.
type Launcher interface {
	Launch(ctx context.Context, req Request) error
}

// Coordinator runs the decision pipeline for incoming lifecycle events.
type Coordinator struct {
	cfg      config.Config
	store    *state.Store
	locks    *lockdir.Manager
	launcher Launcher
	log      *slog.Logger

	// Optional telemetry, nil outside daemon mode.
	Metrics *omotel.Metrics
	Tracer  trace.Tracer

	// Seams for tests.
	now      func() time.Time
	lookPath func(string) (string, error)
}

func New(cfg config.Config, store *state.Store, locks *lockdir.Manager, launcher Launcher, log *slog.Logger) *Coordinator {
	if log == nil {
		log = telemetry.Discard()
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		locks:    locks,
		launcher: launcher,
		log:      log,
		now:      time.Now,
		lookPath: exec.LookPath,
	}
}

// Handle runs the pipeline for one event. The synchronous part ends once the
// launcher has started the run; the subprocess itself outlives this call.
func (c *Coordinator) Handle(ctx context.Context, ev hookevent.Event) Decision {
	kind := hookevent.Classify(ev.HookEventName)
	log := c.log.With("event", ev.HookEventName, "kind", string(kind), "transcript", ev.TranscriptPath)

	if c.Tracer != nil {
		var span trace.Span
		ctx, span = omotel.StartSpan(ctx, c.Tracer, "coordinate.handle",
			omotel.AttrEventName.String(ev.HookEventName),
			omotel.AttrEventKind.String(string(kind)),
			omotel.AttrTranscript.String(ev.TranscriptPath),
		)
		defer span.End()
	}
	if c.Metrics != nil {
		c.Metrics.EventsTotal.Add(ctx, 1, metric.WithAttributes(
			omotel.AttrEventKind.String(string(kind))))
	}
	if !hookevent.Known(ev.HookEventName) {
		log.Debug("unrecognized event name treated as checkpoint")
	}

	if _, err := os.Stat(ev.TranscriptPath); err != nil {
		return c.noop(log, ev, ReasonTranscriptMissing, "")
	}
	if _, err := c.lookPath(c.cfg.ObserverCommand); err != nil {
		return c.noop(log, ev, ReasonObserverMissing, "")
	}
	if kind == hookevent.KindCheckpoint && c.cfg.DisableCheckpoints {
		return c.noop(log, ev, ReasonCheckpointsOff, "")
	}

	acquired, err := c.locks.Acquire(ev.TranscriptPath)
	if err != nil {
		log.Warn("lock acquisition failed", "error", err)
		return c.noop(log, ev, ReasonLockError, "")
	}
	if !acquired {
		if c.Metrics != nil {
			c.Metrics.LockContention.Add(ctx, 1)
		}
		return c.noop(log, ev, ReasonLockHeld, "")
	}

	// Lock held from here. Every early return before the launch hand-off
	// must release it.
	now := c.now()
	count := transcript.Count(ev.TranscriptPath)

	var prior *throttle.Prior
	if rec, err := c.store.Read(ev.TranscriptPath); err == nil {
		prior = &throttle.Prior{MessageCount: rec.MessageCount, LastObserved: rec.LastObserved}
	}

	if skip, reason := throttle.ShouldSkip(now, count, prior, kind, c.cfg.ThrottleWindow()); skip {
		// Skips keep the prior cursor: advancing last_observed here would
		// push the window forward on every duplicate delivery, and
		// advancing the count would swallow real growth.
		if err := c.store.Write(ev.TranscriptPath, prior.LastObserved, prior.MessageCount, state.StatusSkipped); err != nil {
			log.Warn("state write failed", "error", err)
		}
		if relErr := c.locks.Release(ev.TranscriptPath); relErr != nil {
			log.Warn("lock release failed", "error", relErr)
		}
		if c.Metrics != nil {
			c.Metrics.SkipsTotal.Add(ctx, 1, metric.WithAttributes(
				omotel.AttrReason.String(reason)))
		}
		audit.Record(ActionSkip, ev.HookEventName, ev.TranscriptPath, reason, "")
		log.Info("skipped", "reason", reason, "message_count", count)
		return Decision{Action: ActionSkip, Reason: reason}
	}

	runID := uuid.NewString()
	if err := c.store.Write(ev.TranscriptPath, now, count, state.StatusInProgress); err != nil {
		log.Warn("state write failed", "error", err)
	}

	req := Request{
		Transcript: ev.TranscriptPath,
		Source:     ev.Source,
		Kind:       kind,
		RunID:      runID,
	}
	if err := c.launcher.Launch(ctx, req); err != nil {
		log.Error("launch failed", "error", err, "run_id", runID)
		if werr := c.store.Write(ev.TranscriptPath, now, count, state.StatusFailed); werr != nil {
			log.Warn("state write failed", "error", werr)
		}
		if relErr := c.locks.Release(ev.TranscriptPath); relErr != nil {
			log.Warn("lock release failed", "error", relErr)
		}
		audit.Record(ActionNoop, ev.HookEventName, ev.TranscriptPath, ReasonLaunchError, runID)
		return Decision{Action: ActionNoop, Reason: ReasonLaunchError, RunID: runID}
	}

	reason := throttle.ReasonDue
	if kind == hookevent.KindForced {
		reason = throttle.ReasonForced
	}
	if c.Metrics != nil {
		c.Metrics.RunsStarted.Add(ctx, 1, metric.WithAttributes(
			omotel.AttrEventKind.String(string(kind))))
	}
	audit.Record(ActionRun, ev.HookEventName, ev.TranscriptPath, reason, runID)
	log.Info("run launched", "run_id", runID, "message_count", count)
	return Decision{Action: ActionRun, Reason: reason, RunID: runID}
}

func (c *Coordinator) noop(log *slog.Logger, ev hookevent.Event, reason, runID string) Decision {
	audit.Record(ActionNoop, ev.HookEventName, ev.TranscriptPath, reason, runID)
	log.Info("no-op", "reason", reason)
	return Decision{Action: ActionNoop, Reason: reason, RunID: runID}
}
