package coordinate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/om/internal/config"
	"github.com/basket/om/internal/lockdir"
	omotel "github.com/basket/om/internal/otel"
	"github.com/basket/om/internal/state"
	"github.com/basket/om/internal/telemetry"
	"github.com/basket/om/internal/transcript"
)

// Runner executes one compression run to completion. It owns the transcript
// lock for the duration: Execute releases it no matter how the run ends.
type Runner struct {
	Config config.Config
	Store  *state.Store
	Locks  *lockdir.Manager
	Log    *slog.Logger

	// Optional telemetry, nil outside daemon mode.
	Metrics *omotel.Metrics
	Tracer  trace.Tracer

	// Test seam for the subprocess. Nil means the configured observer tool.
	Exec func(ctx context.Context, req Request) error
}

// Execute runs the compression tool synchronously, recounts the transcript
// afterwards, and persists the final record. The returned error is
// informational only; callers absorb it.
func (r *Runner) Execute(ctx context.Context, req Request) error {
	defer func() {
		if err := r.Locks.Release(req.Transcript); err != nil {
			r.log().Warn("lock release failed", "transcript", req.Transcript, "error", err)
		}
	}()

	log := r.log().With("run_id", req.RunID, "transcript", req.Transcript, "source", req.Source)

	if r.Tracer != nil {
		var span trace.Span
		ctx, span = omotel.StartClientSpan(ctx, r.Tracer, "coordinate.observe",
			omotel.AttrTranscript.String(req.Transcript),
			omotel.AttrSource.String(req.Source),
			omotel.AttrRunID.String(req.RunID),
		)
		defer span.End()
	}

	start := time.Now()
	runErr := r.runObserver(ctx, req)
	elapsed := time.Since(start)

	// The tool may have rewritten or truncated the transcript; the persisted
	// count must reflect what is on disk now, not what triggered the run.
	count := transcript.Count(req.Transcript)

	status := state.StatusSuccess
	if runErr != nil {
		status = state.StatusFailed
		if r.Metrics != nil {
			r.Metrics.RunFailures.Add(ctx, 1)
		}
		if r.Tracer != nil {
			trace.SpanFromContext(ctx).SetStatus(codes.Error, runErr.Error())
		}
		log.Error("observer run failed", "error", runErr, "duration", elapsed)
	} else {
		log.Info("observer run finished", "duration", elapsed, "message_count", count)
	}
	if r.Metrics != nil {
		r.Metrics.RunDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			omotel.AttrSource.String(req.Source)))
	}

	if err := r.Store.Write(req.Transcript, time.Now(), count, status); err != nil {
		log.Warn("state write failed", "error", err)
	}
	return runErr
}

func (r *Runner) runObserver(ctx context.Context, req Request) error {
	if r.Exec != nil {
		return r.Exec(ctx, req)
	}

	tool, err := exec.LookPath(r.Config.ObserverCommand)
	if err != nil {
		return fmt.Errorf("coordinate: observer tool: %w", err)
	}

	cmd := exec.CommandContext(ctx, tool,
		"observe",
		"--transcript", req.Transcript,
		"--source", req.Source,
	)
	if out := r.openRunLog(req.RunID); out != nil {
		defer out.Close()
		cmd.Stdout = out
		cmd.Stderr = out
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("coordinate: observer: %w", err)
	}
	return nil
}

// openRunLog opens a per-run output file under the log directory. Failures
// leave the subprocess output discarded rather than aborting the run.
func (r *Runner) openRunLog(runID string) *os.File {
	dir := filepath.Join(r.Config.LogDir(), "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, runID+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	return f
}

func (r *Runner) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return telemetry.Discard()
}
