// Package child implements the Stdio Child Supervisor (C3): spawning a
// named server's command as a subprocess, wiring its stdin/stdout into an
// internal/transport.Stdio, draining its stderr, and terminating it
// gracefully on shutdown. Spawn shape follows cmtonkinson-brain's
// ManagedServer.Start (cmd.StdinPipe/StdoutPipe/StderrPipe, cmd.Start,
// then background readers) generalized with process-group isolation so a
// child's own descendants die with it, the way mauromedda's
// NewStdioTransportWithApproval spawns via exec.CommandContext but without
// per-process-group control.
package child

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelnet/mcp-proxy/internal/bridgeerr"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// GracePeriod is how long Stop waits after SIGTERM before escalating to
// SIGKILL (spec §5: 5s child graceful termination).
const GracePeriod = 5 * time.Second

// Spawn is the fully-resolved descriptor for one child process: command,
// args, working directory, and final environment (already merged per the
// Named Server Registry's static/header/pass-environment precedence).
type Spawn struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Process supervises one spawned child and its Stdio transport.
type Process struct {
	name   string
	cmd    *exec.Cmd
	tr     *transport.Stdio
	log    zerolog.Logger
	exited chan struct{}

	mu      sync.Mutex
	waitErr error
}

// Start spawns desc.Command in its own process group and wires its
// stdin/stdout through an internal/transport.Stdio, and its stderr through
// log lines tagged with the owning server's name. onMalformed is routed to
// the MalformedMessage error taxonomy entry without ending the session.
func Start(ctx context.Context, name string, desc Spawn, log zerolog.Logger, onMalformed func(error)) (*Process, error) {
	cmd := exec.Command(desc.Command, desc.Args...)
	cmd.Dir = desc.Dir
	cmd.Env = desc.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.SpawnFailed, "child", fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.SpawnFailed, "child", fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.SpawnFailed, "child", fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, bridgeerr.New(bridgeerr.SpawnFailed, "child", fmt.Errorf("start %q: %w", desc.Command, err))
	}

	childLog := log.With().Str("server", name).Int("pid", cmd.Process.Pid).Logger()
	childLog.Info().Strs("args", desc.Args).Msg("child process started")

	p := &Process{
		name:   name,
		cmd:    cmd,
		log:    childLog,
		exited: make(chan struct{}),
	}
	p.tr = transport.NewStdio(stdout, stdin, stderr, func(line string) {
		childLog.Debug().Str("stderr", line).Msg("child stderr")
	}, onMalformed)

	go p.waitLoop()
	return p, nil
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.exited)
	if err != nil {
		p.log.Warn().Err(err).Msg("child process exited")
	} else {
		p.log.Info().Msg("child process exited")
	}
}

// Transport returns the Stdio transport wired to the child's stdin/stdout.
func (p *Process) Transport() transport.Transport { return p.tr }

// Exited reports whether the child has already terminated.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Err returns the child's exec.Cmd.Wait error, valid only after Exited is
// closed. Nothing in this module maps it to ChildCrashed: a child that
// exits reaches the Bridge as end-of-stream on its Transport.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Stop terminates the child's whole process group: SIGTERM, then SIGKILL
// after GracePeriod if it has not exited (spec §5).
func (p *Process) Stop(ctx context.Context) error {
	_ = p.tr.Close()

	pgid := p.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		p.log.Warn().Err(err).Msg("SIGTERM to child process group failed")
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(GracePeriod):
	case <-ctx.Done():
	}

	select {
	case <-p.exited:
		return nil
	default:
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		p.log.Warn().Err(err).Msg("SIGKILL to child process group failed")
	}
	<-p.exited
	return nil
}
