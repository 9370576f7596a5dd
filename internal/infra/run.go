package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/dependabot/registry-proxy/internal/actions/core"
	"github.com/dependabot/registry-proxy/internal/reachability"
	"github.com/goware/prefixer"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/moby/sys/signal"
	"github.com/sirupsen/logrus"
)

// shutdownGrace bounds waiting for active proxy connections on exit.
const shutdownGrace = 5 * time.Second

type RunParams struct {
	ProxyParams
	// Command and arguments run behind the proxy
	Command []string
	// StopSignal is sent to the command when the run is canceled, SIGTERM by default
	StopSignal string
	// StopTimeout is how long the command gets to exit after StopSignal before it is killed
	StopTimeout time.Duration
	// Prefix is prepended to every line of the command output, empty leaves it untouched
	Prefix string
	// CheckConnections probes the registries before the command starts
	CheckConnections bool
	// ProbeConcurrency bounds parallel registry probes
	ProbeConcurrency int
	Stdout           io.Writer
	Stderr           io.Writer
}

// ExitError is returned when the command exits with a non-zero code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

func (p *RunParams) Validate() error {
	if len(p.Command) == 0 {
		return fmt.Errorf("command is required")
	}
	if p.StopSignal != "" {
		if _, err := signal.ParseSignal(p.StopSignal); err != nil {
			return fmt.Errorf("invalid stop signal: %w", err)
		}
	}
	return nil
}

// Run starts a proxy, runs the command with the proxy environment and stops the proxy when the
// command exits.
func Run(ctx context.Context, logger logrus.FieldLogger, params RunParams) (err error) {
	if err := params.Validate(); err != nil {
		return err
	}

	prox, err := StartProxy(ctx, logger, params.ProxyParams)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if closeErr := prox.Close(shutdownCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if params.CheckConnections {
		backend, err := reachability.NewNetworkBackend(prox.Info)
		if err != nil {
			return err
		}
		if core.IsActions() {
			core.StartGroup("Testing connections to private registries")
		}
		reachability.CheckConnections(ctx, logger, prox.Info, backend, reachability.Options{Concurrency: params.ProbeConcurrency})
		if core.IsActions() {
			core.EndGroup()
		}
		backend.Close()
	}

	return runCommand(ctx, logger, params, append(os.Environ(), prox.Env()...))
}

func runCommand(ctx context.Context, logger logrus.FieldLogger, params RunParams, env []string) error {
	stop := syscall.SIGTERM
	if params.StopSignal != "" {
		stop, _ = signal.ParseSignal(params.StopSignal)
	}
	stdout, stderr := params.Stdout, params.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	cmd := exec.CommandContext(ctx, params.Command[0], params.Command[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Cancel = func() error {
		logger.Infof("Sending %v to %s", stop, params.Command[0])
		return cmd.Process.Signal(stop)
	}
	cmd.WaitDelay = params.StopTimeout
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	var wg sync.WaitGroup
	var closers []io.Closer
	output := func(dst io.Writer) io.Writer {
		if params.Prefix == "" {
			return dst
		}
		r, w := io.Pipe()
		closers = append(closers, w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = io.Copy(dst, prefixer.New(r, params.Prefix))
		}()
		return w
	}
	cmd.Stdout = output(stdout)
	cmd.Stderr = output(stderr)

	logger.Debugf("Running %v", params.Command)
	err := cmd.Run()
	for _, c := range closers {
		_ = c.Close()
	}
	wg.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("failed to run command: %w", err)
	}
	return nil
}

// Diff returns a unified diff between two documents, empty when they are equal.
func Diff(wantName, gotName, want, got string) string {
	if want == got {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath(wantName), want, got)
	return fmt.Sprint(gotextdiff.ToUnified(wantName, gotName, want, edits))
}
