package fleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// probeFunc adapts a function to the Prober interface.
type probeFunc func(ctx context.Context, def Definition) error

func (f probeFunc) Probe(ctx context.Context, def Definition) error { return f(ctx, def) }

func testOptions() Options {
	return Options{
		HealthInterval: 20 * time.Millisecond,
		ProbeTimeout:   time.Second,
		ShutdownGrace:  2 * time.Second,
		UnhealthyAfter: 2,
		Logger:         zap.NewNop(),
		Prober:         probeFunc(func(context.Context, Definition) error { return nil }),
	}
}

func waitForStatus(t *testing.T, s *Supervisor, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.State(id)
		require.NoError(t, err)
		if st.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	st, _ := s.State(id)
	t.Fatalf("server %s never reached %s, still %s (%s)", id, want, st.Status, st.LastError)
}

func TestSupervisor_StartStop(t *testing.T) {
	defs := []Definition{{ID: "sleeper", Command: "sleep", Args: []string{"60"}}}

	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Start("sleeper"))

	st, err := s.State("sleeper")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)
	assert.NotZero(t, st.PID)

	require.NoError(t, s.Stop("sleeper"))
	waitForStatus(t, s, "sleeper", StatusStopped)

	// A deliberate stop must not count as a failure.
	st, err = s.State("sleeper")
	require.NoError(t, err)
	assert.Empty(t, st.LastError)
}

func TestSupervisor_UnknownServer(t *testing.T) {
	defs := []Definition{{ID: "a", Command: "sleep", Args: []string{"60"}}}
	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	assert.ErrorIs(t, s.Start("ghost"), ErrServerNotFound)
	assert.ErrorIs(t, s.Stop("ghost"), ErrServerNotFound)
	_, err = s.State("ghost")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestSupervisor_DoubleStart(t *testing.T) {
	defs := []Definition{{ID: "a", Command: "sleep", Args: []string{"60"}}}
	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Start("a"))
	assert.ErrorIs(t, s.Start("a"), ErrAlreadyRunning)
}

func TestSupervisor_RestartOnExit_GivesUp(t *testing.T) {
	// "true" exits immediately, so the supervisor should burn through
	// the restart budget and land on FAILED.
	defs := []Definition{{
		ID:      "flaky",
		Command: "true",
		Restart: RestartPolicy{
			MaxRestarts:   2,
			BackoffBaseMS: 1,
			BackoffCapMS:  5,
		},
	}}

	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Start("flaky"))
	waitForStatus(t, s, "flaky", StatusFailed)

	st, err := s.State("flaky")
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "gave up")

	events := s.Events("flaky", 0)
	assert.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StatusFailed, last.To)
}

// waitForRestartWait blocks until the server sits in the backoff wait
// between restarts: STARTING with no live process.
func waitForRestartWait(t *testing.T, s *Supervisor, id string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.State(id)
		require.NoError(t, err)
		if st.Status == StatusStarting && st.PID == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := s.State(id)
	t.Fatalf("server %s never entered restart wait, status %s pid %d", id, st.Status, st.PID)
}

func TestSupervisor_ManualRestartDuringBackoff(t *testing.T) {
	// The command exits until the marker file exists, then sleeps.
	marker := filepath.Join(t.TempDir(), "ready")
	defs := []Definition{{
		ID:      "phoenix",
		Command: "sh",
		Args:    []string{"-c", fmt.Sprintf("test -f %s && exec sleep 60; exit 1", marker)},
		Restart: RestartPolicy{MaxRestarts: 5, BackoffBaseMS: 400, BackoffCapMS: 400},
	}}

	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Start("phoenix"))
	waitForRestartWait(t, s, "phoenix")

	require.NoError(t, os.WriteFile(marker, nil, 0o644))
	require.NoError(t, s.Restart("phoenix"))

	st, err := s.State("phoenix")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, st.Status)
	require.NotZero(t, st.PID)
	pid := st.PID

	// Wait out the stale backoff timer: it must not spawn a second
	// process over the one the manual restart started.
	time.Sleep(700 * time.Millisecond)

	st, err = s.State("phoenix")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, pid, st.PID)
}

func TestSupervisor_StopDuringBackoffCancelsRespawn(t *testing.T) {
	defs := []Definition{{
		ID:      "flappy",
		Command: "false",
		Restart: RestartPolicy{MaxRestarts: 5, BackoffBaseMS: 300, BackoffCapMS: 300},
	}}

	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Start("flappy"))
	waitForRestartWait(t, s, "flappy")

	require.NoError(t, s.Stop("flappy"))
	waitForStatus(t, s, "flappy", StatusStopped)

	time.Sleep(600 * time.Millisecond)

	st, err := s.State("flappy")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, st.Status)
	assert.Zero(t, st.PID)
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	defs := []Definition{{ID: "missing", Command: "definitely-not-a-real-binary-xyz"}}
	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	require.Error(t, s.Start("missing"))

	st, err := s.State("missing")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.LastError, "spawn failed")
}

func TestSupervisor_DependencyOrder(t *testing.T) {
	defs := []Definition{
		{ID: "base", Command: "sleep", Args: []string{"60"}},
		{ID: "dependent", Command: "sleep", Args: []string{"60"}, DependsOn: []string{"base"}},
	}

	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.StartAll(context.Background()))

	for _, id := range []string{"base", "dependent"} {
		st, err := s.State(id)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, st.Status, id)
	}
}

func TestSupervisor_DependencyFailureBlocksDependent(t *testing.T) {
	defs := []Definition{
		{ID: "broken", Command: "definitely-not-a-real-binary-xyz"},
		{ID: "dependent", Command: "sleep", Args: []string{"60"}, DependsOn: []string{"broken"}},
	}

	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	require.Error(t, s.StartAll(context.Background()))

	st, err := s.State("dependent")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.LastError, "dependency broken")
}

func TestSupervisor_ProbePromotesStarting(t *testing.T) {
	var healthy atomic.Bool

	opts := testOptions()
	opts.Prober = probeFunc(func(context.Context, Definition) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("not ready")
	})
	// Generous failure threshold so the probe flapping during STARTING
	// does not kill the process before we flip it healthy.
	opts.UnhealthyAfter = 1000

	defs := []Definition{{
		ID:      "probed",
		Command: "sleep",
		Args:    []string{"60"},
		Probe:   &ProbeSpec{Type: ProbeStdio},
		Restart: RestartPolicy{TimeoutSeconds: 60},
	}}

	s, err := NewSupervisor(defs, opts)
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Start("probed"))

	st, err := s.State("probed")
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, st.Status)

	healthy.Store(true)
	waitForStatus(t, s, "probed", StatusRunning)
}

func TestSupervisor_ProbeFailureTriggersRestart(t *testing.T) {
	var calls atomic.Int64

	opts := testOptions()
	opts.UnhealthyAfter = 2
	opts.Prober = probeFunc(func(context.Context, Definition) error {
		calls.Add(1)
		return errors.New("probe refused")
	})

	defs := []Definition{{
		ID:      "sick",
		Command: "sleep",
		Args:    []string{"60"},
		Probe:   &ProbeSpec{Type: ProbeStdio},
		Restart: RestartPolicy{MaxRestarts: 1, BackoffBaseMS: 1, BackoffCapMS: 5, TimeoutSeconds: 60},
	}}

	s, err := NewSupervisor(defs, opts)
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.Start("sick"))

	// Two consecutive failures kill the process; the one restart is
	// also probed to death, then the supervisor gives up.
	waitForStatus(t, s, "sick", StatusFailed)
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}

func TestSupervisor_SnapshotSorted(t *testing.T) {
	defs := []Definition{
		{ID: "zeta", Command: "sleep", Args: []string{"60"}},
		{ID: "alpha", Command: "sleep", Args: []string{"60"}},
	}

	s, err := NewSupervisor(defs, testOptions())
	require.NoError(t, err)
	defer s.Shutdown()

	states := s.Snapshot()
	require.Len(t, states, 2)
	assert.Equal(t, "alpha", states[0].ID)
	assert.Equal(t, "zeta", states[1].ID)
	assert.Equal(t, StatusStopped, states[0].Status)
}

func TestSummarize(t *testing.T) {
	states := []ServerState{
		{ID: "a", Status: StatusRunning},
		{ID: "b", Status: StatusRunning},
		{ID: "c", Status: StatusFailed},
		{ID: "d", Status: StatusStopped},
	}

	sum := Summarize(states)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 2, sum.Running)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Stopped)
	assert.False(t, sum.OK)
}

func TestEventLog_Ring(t *testing.T) {
	l := NewEventLog(3)
	for i := 0; i < 5; i++ {
		l.Record(Event{ServerID: "a", To: StatusRunning, At: time.Unix(int64(i), 0)})
	}

	events := l.All("", 0)
	require.Len(t, events, 3)
	assert.Equal(t, time.Unix(2, 0), events[0].At)
	assert.Equal(t, time.Unix(4, 0), events[2].At)

	limited := l.All("", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, time.Unix(4, 0), limited[0].At)
}
