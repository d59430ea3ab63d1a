package coordinate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// ExecLauncher starts the run as a detached re-exec of the current binary
// (`om run --locked ...`), so the hook process can exit immediately while the
// compression subprocess keeps running in its own session. The child inherits
// lock ownership and releases it when done.
type ExecLauncher struct {
	LogDir string
}

func (l *ExecLauncher) Launch(_ context.Context, req Request) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("coordinate: resolve executable: %w", err)
	}

	cmd := exec.Command(self,
		"run",
		"--locked",
		"--transcript", req.Transcript,
		"--source", req.Source,
		"--kind", string(req.Kind),
		"--run-id", req.RunID,
	)
	cmd.SysProcAttr = detachAttr()

	var out *os.File
	if l.LogDir != "" {
		if err := os.MkdirAll(l.LogDir, 0o755); err == nil {
			out, _ = os.OpenFile(filepath.Join(l.LogDir, "runs.log"),
				os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		}
	}
	if out != nil {
		defer out.Close()
		cmd.Stdout = out
		cmd.Stderr = out
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("coordinate: start run: %w", err)
	}
	// Detach: the child is not waited on; it re-reads its own state when it
	// finishes. Release only drops the process handle, not the process.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("coordinate: detach run: %w", err)
	}
	return nil
}

// GoLauncher runs the runner in-process. The daemon uses it so scheduled and
// watched events share one process, and tests use it to observe completion.
type GoLauncher struct {
	Runner *Runner

	wg sync.WaitGroup
}

func (l *GoLauncher) Launch(ctx context.Context, req Request) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		// The triggering call returns before the run finishes; the run must
		// not die with the caller's deadline.
		_ = l.Runner.Execute(context.WithoutCancel(ctx), req)
	}()
	return nil
}

// Wait blocks until all launched runs have finished.
func (l *GoLauncher) Wait() {
	l.wg.Wait()
}
