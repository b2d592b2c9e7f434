package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/service"
	appwf "github.com/garyjia/hitl-workflow/internal/application/workflow"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
	"github.com/garyjia/hitl-workflow/internal/infrastructure/queue"
)

type fakeWorker struct {
	name     string
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (w *fakeWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started.Store(true)
	return nil
}

func (w *fakeWorker) Stop() error {
	w.stopped.Store(true)
	return nil
}

func (w *fakeWorker) Name() string { return w.name }

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(zap.NewNop())
	a := &fakeWorker{name: "a"}
	b := &fakeWorker{name: "b", startErr: errors.New("boom")}
	m.Register(a)
	m.Register(b)
	assert.Equal(t, 2, m.WorkerCount())

	err := m.StartAll(context.Background())
	assert.Error(t, err)
	assert.True(t, m.IsRunning())
	assert.True(t, a.started.Load())

	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.True(t, a.stopped.Load())
	assert.NoError(t, m.StopAll())
}

type fakeProcessor struct {
	mu    sync.Mutex
	seen  []string
	errOn map[string]error
}

func (p *fakeProcessor) Process(ctx context.Context, cmd *event.Command) (*appwf.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, cmd.ID)
	if err := p.errOn[cmd.ID]; err != nil {
		return nil, err
	}
	return &appwf.Outcome{Applied: true, NewState: cmd.State}, nil
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func newCommand(id string) *event.Command {
	cmd := event.NewCommand("wf-"+id, domainwf.EventInteractionRequested, domainwf.StateRequested, "test")
	cmd.ID = id
	return cmd
}

func TestCommandWorker_ProcessesAndDeadLetters(t *testing.T) {
	q := queue.NewMemoryQueue(10, queue.RetryPolicy{MaxAttempts: 1, RetryDelay: time.Millisecond}, zap.NewNop())
	defer q.Close()

	proc := &fakeProcessor{errOn: map[string]error{
		"bad": domainwf.ErrInvalidTransition,
	}}
	w := NewCommandWorker(CommandWorkerConfig{ProcessTimeout: time.Second}, q, proc, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, newCommand("ok-1")))
	require.NoError(t, q.Publish(ctx, newCommand("bad")))
	require.NoError(t, q.Publish(ctx, newCommand("ok-2")))

	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx))

	require.Eventually(t, func() bool { return proc.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	processed, failed := w.Stats()
	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, failed)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", dead[0].ID)
}

type fakeSweeper struct {
	calls  atomic.Int32
	result *service.SweepResult
	err    error
}

func (s *fakeSweeper) Sweep(ctx context.Context) (*service.SweepResult, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func TestSweepWorker_RunOnce(t *testing.T) {
	sw := &fakeSweeper{result: &service.SweepResult{TimedOut: 2}}
	w := NewSweepWorker(SweepWorkerConfig{}, sw, zap.NewNop())

	w.RunOnce()
	assert.Equal(t, int32(1), sw.calls.Load())

	sw.err = errors.New("store down")
	w.RunOnce()
	assert.Equal(t, int32(2), sw.calls.Load())
}

func TestSweepWorker_Schedule(t *testing.T) {
	sw := &fakeSweeper{result: &service.SweepResult{}}

	bad := NewSweepWorker(SweepWorkerConfig{Schedule: "not a schedule"}, sw, zap.NewNop())
	assert.Error(t, bad.Start(context.Background()))

	w := NewSweepWorker(SweepWorkerConfig{Schedule: "@every 1s"}, sw, zap.NewNop())
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return sw.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, w.Stop())
}
