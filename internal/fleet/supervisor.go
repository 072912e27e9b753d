package fleet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrServerNotFound is returned for operations on unknown server ids.
	ErrServerNotFound = errors.New("server not found")

	// ErrAlreadyRunning is returned when starting a server that is not stopped.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrNotRunning is returned when stopping a server with no live process.
	ErrNotRunning = errors.New("server not running")
)

// Prober checks the health of a single server definition.
type Prober interface {
	Probe(ctx context.Context, def Definition) error
}

// TransitionHook observes status transitions, e.g. for metrics or
// persistent history.
type TransitionHook func(serverID string, from, to Status, reason string)

// Options tunes supervisor behavior.
type Options struct {
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
	ShutdownGrace  time.Duration
	UnhealthyAfter int
	Logger         *zap.Logger
	Prober         Prober
	OnTransition   TransitionHook
}

func (o *Options) withDefaults() {
	if o.HealthInterval <= 0 {
		o.HealthInterval = 15 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 10 * time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 10 * time.Second
	}
	if o.UnhealthyAfter <= 0 {
		o.UnhealthyAfter = 3
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Prober == nil {
		o.Prober = NewProber()
	}
}

type managed struct {
	def         Definition
	status      Status
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	pid         int
	gen         int
	restarts    int
	windowStart time.Time
	probeFails  int
	stopping    bool
	lastErr     string
	startedAt   time.Time
	updatedAt   time.Time
	waitDone    chan struct{}
}

// Supervisor manages the lifecycle of the fleet's child processes:
// dependency-ordered startup, health probing, bounded backoff restarts,
// and reverse-order shutdown.
type Supervisor struct {
	mu      sync.Mutex
	servers map[string]*managed
	order   []string
	opts    Options
	logger  *zap.Logger
	events  *EventLog

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor validates the definitions and builds a supervisor. No
// processes are started until StartAll or Start is called.
func NewSupervisor(defs []Definition, opts Options) (*Supervisor, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	order, err := StartOrder(defs)
	if err != nil {
		return nil, err
	}
	opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		servers: make(map[string]*managed, len(defs)),
		order:   order,
		opts:    opts,
		logger:  opts.Logger,
		events:  NewEventLog(1024),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, def := range defs {
		now := time.Now().UTC()
		s.servers[def.ID] = &managed{def: def, status: StatusStopped, updatedAt: now}
	}

	s.wg.Add(1)
	go s.healthLoop()
	return s, nil
}

// Definitions returns the fleet definitions in start order.
func (s *Supervisor) Definitions() []Definition {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Definition, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.servers[id].def)
	}
	return out
}

// StartAll starts every server in dependency order. A server whose
// dependency ends up failed is marked failed without being spawned.
// Startup continues past individual failures so independent branches of
// the dependency graph still come up.
func (s *Supervisor) StartAll(ctx context.Context) error {
	var firstErr error
	for _, id := range s.order {
		if err := s.startWithDeps(ctx, id); err != nil {
			s.logger.Warn("server failed to start", zap.String("server", id), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("start %s: %w", id, err)
			}
		}
	}
	return firstErr
}

func (s *Supervisor) startWithDeps(ctx context.Context, id string) error {
	s.mu.Lock()
	m, ok := s.servers[id]
	if !ok {
		s.mu.Unlock()
		return ErrServerNotFound
	}
	deps := append([]string(nil), m.def.DependsOn...)
	timeout := m.def.Restart.StartupTimeout()
	s.mu.Unlock()

	if err := s.awaitDependencies(ctx, deps, timeout); err != nil {
		s.mu.Lock()
		s.setStatusLocked(m, StatusFailed, err.Error())
		s.mu.Unlock()
		return err
	}
	return s.Start(id)
}

// awaitDependencies blocks until every dependency is running, or fails
// fast when one of them reaches a terminal state.
func (s *Supervisor) awaitDependencies(ctx context.Context, deps []string, timeout time.Duration) error {
	if len(deps) == 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for {
		pending := deps[:0:0]
		for _, dep := range deps {
			st, err := s.State(dep)
			if err != nil {
				return err
			}
			switch st.Status {
			case StatusRunning:
			case StatusFailed, StatusStopped:
				return fmt.Errorf("dependency %s is %s", dep, st.Status)
			default:
				pending = append(pending, dep)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for dependencies: %v", pending)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Start spawns a single server. The server enters STARTING until its
// probe passes; servers without a probe go straight to RUNNING.
func (s *Supervisor) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.servers[id]
	if !ok {
		return ErrServerNotFound
	}
	if !m.status.Terminal() {
		return ErrAlreadyRunning
	}
	m.stopping = false
	m.restarts = 0
	m.windowStart = time.Time{}
	return s.spawnLocked(m)
}

func (s *Supervisor) spawnLocked(m *managed) error {
	def := m.def

	cmd := exec.Command(def.Command, def.Args...)
	cmd.Dir = def.Dir
	cmd.Env = append(os.Environ(), def.ExpandedEnv()...)

	// Stdio MCP servers exit when stdin closes, so hold the write end
	// open for the lifetime of the process.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.setStatusLocked(m, StatusFailed, fmt.Sprintf("stdin pipe: %v", err))
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.setStatusLocked(m, StatusFailed, fmt.Sprintf("stderr pipe: %v", err))
		return err
	}
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		s.setStatusLocked(m, StatusFailed, fmt.Sprintf("spawn failed: %v", err))
		return err
	}

	m.cmd = cmd
	m.stdin = stdin
	m.pid = cmd.Process.Pid
	m.gen++
	m.probeFails = 0
	m.startedAt = time.Now().UTC()
	m.waitDone = make(chan struct{})

	if m.def.Probe != nil {
		s.setStatusLocked(m, StatusStarting, "")
	} else {
		s.setStatusLocked(m, StatusRunning, "")
	}

	gen := m.gen
	s.wg.Add(2)
	go s.drainStderr(def.ID, stderr)
	go s.monitor(def.ID, gen, cmd, m.waitDone)

	s.logger.Info("server started",
		zap.String("server", def.ID),
		zap.Int("pid", m.pid),
		zap.String("command", def.Command),
	)
	return nil
}

// drainStderr forwards the child's stderr (the MCP logging channel) to
// the supervisor log.
func (s *Supervisor) drainStderr(id string, r io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug("server stderr", zap.String("server", id), zap.String("line", scanner.Text()))
	}
}

// monitor waits on the process and decides what its exit means.
func (s *Supervisor) monitor(id string, gen int, cmd *exec.Cmd, done chan struct{}) {
	defer s.wg.Done()
	err := cmd.Wait()
	close(done)

	s.mu.Lock()
	m, ok := s.servers[id]
	if !ok || m.gen != gen {
		s.mu.Unlock()
		return
	}
	m.cmd = nil
	m.pid = 0

	if m.stopping || s.ctx.Err() != nil {
		s.setStatusLocked(m, StatusStopped, "")
		s.mu.Unlock()
		return
	}

	reason := "process exited"
	if err != nil {
		reason = fmt.Sprintf("process exited: %v", err)
	}
	s.mu.Unlock()

	s.scheduleRestart(id, gen, reason)
}

// scheduleRestart applies the restart policy: exponential backoff with
// jitter, giving up once MaxRestarts is exceeded within the window.
func (s *Supervisor) scheduleRestart(id string, gen int, reason string) {
	s.mu.Lock()
	m, ok := s.servers[id]
	if !ok || m.gen != gen || m.stopping {
		s.mu.Unlock()
		return
	}

	policy := m.def.Restart
	now := time.Now()
	if m.windowStart.IsZero() || now.Sub(m.windowStart) > policy.Window() {
		m.windowStart = now
		m.restarts = 0
	}
	m.restarts++

	if m.restarts > policy.Limit() {
		s.setStatusLocked(m, StatusFailed,
			fmt.Sprintf("%s; gave up after %d restarts", reason, m.restarts-1))
		s.mu.Unlock()
		return
	}

	backoff := policy.BackoffCap()
	if shift := m.restarts - 1; shift < 16 {
		if b := policy.BackoffBase() << shift; b < backoff {
			backoff = b
		}
	}
	backoff += time.Duration(rand.Int63n(int64(backoff)/4 + 1))

	s.setStatusLocked(m, StatusStarting, fmt.Sprintf("%s; restart %d in %s", reason, m.restarts, backoff))
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		m, ok := s.servers[id]
		if !ok || m.stopping || s.ctx.Err() != nil {
			return
		}
		// A manual restart bumps the generation and may already have a
		// live process; a stale timer must not spawn a second one.
		if m.gen != gen || m.cmd != nil {
			return
		}
		if err := s.spawnLocked(m); err != nil {
			s.logger.Error("restart failed", zap.String("server", id), zap.Error(err))
		}
	}()
}

// Stop terminates a single server: close stdin for a clean EOF
// shutdown, SIGTERM, and SIGKILL after the grace period.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	m, ok := s.servers[id]
	if !ok {
		s.mu.Unlock()
		return ErrServerNotFound
	}
	if m.cmd == nil || m.cmd.Process == nil {
		// A server waiting out a restart backoff has no live process;
		// flagging stopping cancels the pending respawn.
		if m.status == StatusStarting {
			m.stopping = true
			s.setStatusLocked(m, StatusStopped, "stop requested during restart wait")
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		return ErrNotRunning
	}

	m.stopping = true
	proc := m.cmd.Process
	stdin := m.stdin
	done := m.waitDone
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	_ = proc.Signal(syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(s.opts.ShutdownGrace):
		s.logger.Warn("server did not exit in time, killing", zap.String("server", id))
		_ = proc.Kill()
		<-done
	}
	return nil
}

// Restart stops a server if needed and starts it fresh, resetting the
// restart budget.
func (s *Supervisor) Restart(id string) error {
	if err := s.Stop(id); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return s.Start(id)
}

// StopAll shuts the fleet down in reverse dependency order.
func (s *Supervisor) StopAll() {
	for i := len(s.order) - 1; i >= 0; i-- {
		id := s.order[i]
		if err := s.Stop(id); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Warn("stop failed", zap.String("server", id), zap.Error(err))
		}
	}
}

// Shutdown stops the fleet and the supervisor's background goroutines.
func (s *Supervisor) Shutdown() {
	s.StopAll()
	s.cancel()
	s.wg.Wait()
}

// State returns the snapshot for one server.
func (s *Supervisor) State(id string) (ServerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.servers[id]
	if !ok {
		return ServerState{}, ErrServerNotFound
	}
	return s.stateLocked(m), nil
}

// Snapshot returns the state of every server, sorted by id.
func (s *Supervisor) Snapshot() []ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ServerState, 0, len(s.servers))
	for _, m := range s.servers {
		out = append(out, s.stateLocked(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns retained status transitions, optionally filtered.
func (s *Supervisor) Events(serverID string, limit int) []Event {
	return s.events.All(serverID, limit)
}

func (s *Supervisor) stateLocked(m *managed) ServerState {
	st := ServerState{
		ID:        m.def.ID,
		Status:    m.status,
		PID:       m.pid,
		Restarts:  m.restarts,
		LastError: m.lastErr,
		UpdatedAt: m.updatedAt,
	}
	if !m.startedAt.IsZero() && m.status != StatusStopped && m.status != StatusFailed {
		started := m.startedAt
		st.StartedAt = &started
	}
	return st
}

func (s *Supervisor) setStatusLocked(m *managed, to Status, reason string) {
	from := m.status
	m.status = to
	m.updatedAt = time.Now().UTC()
	if to == StatusFailed || to == StatusUnhealthy {
		m.lastErr = reason
	} else if to == StatusRunning {
		m.lastErr = ""
	}
	if from == to {
		return
	}

	ev := Event{ServerID: m.def.ID, From: from, To: to, Reason: reason, At: m.updatedAt}
	s.events.Record(ev)
	s.logger.Info("status transition",
		zap.String("server", m.def.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(m.def.ID, from, to, reason)
	}
}

// healthLoop probes live servers on a fixed interval.
func (s *Supervisor) healthLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.probeAll()
		}
	}
}

func (s *Supervisor) probeAll() {
	type target struct {
		def Definition
		gen int
	}

	s.mu.Lock()
	var targets []target
	for _, m := range s.servers {
		if m.def.Probe == nil || m.cmd == nil {
			continue
		}
		switch m.status {
		case StatusStarting, StatusRunning, StatusUnhealthy:
			targets = append(targets, target{def: m.def, gen: m.gen})
		}
	}
	s.mu.Unlock()

	for _, t := range targets {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.ProbeTimeout)
		err := s.opts.Prober.Probe(ctx, t.def)
		cancel()
		s.recordProbe(t.def.ID, t.gen, err)
	}
}

func (s *Supervisor) recordProbe(id string, gen int, probeErr error) {
	s.mu.Lock()
	m, ok := s.servers[id]
	if !ok || m.gen != gen || m.cmd == nil {
		s.mu.Unlock()
		return
	}

	if probeErr == nil {
		m.probeFails = 0
		if m.status == StatusStarting || m.status == StatusUnhealthy {
			s.setStatusLocked(m, StatusRunning, "probe passed")
		}
		s.mu.Unlock()
		return
	}

	m.probeFails++
	s.logger.Warn("probe failed",
		zap.String("server", id),
		zap.Int("consecutive", m.probeFails),
		zap.Error(probeErr),
	)

	startupExpired := m.status == StatusStarting &&
		time.Since(m.startedAt) > m.def.Restart.StartupTimeout()

	if m.probeFails < s.opts.UnhealthyAfter && !startupExpired {
		s.mu.Unlock()
		return
	}

	if m.status == StatusRunning {
		s.setStatusLocked(m, StatusUnhealthy, probeErr.Error())
	}
	proc := m.cmd.Process
	s.mu.Unlock()

	// Kill the process; the monitor goroutine drives the restart path.
	if proc != nil {
		_ = proc.Kill()
	}
}
