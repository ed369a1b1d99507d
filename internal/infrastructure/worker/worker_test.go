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

	"github.com/garyjia/ai-invoice-intake/internal/application/service"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

type mockPreparer struct {
	mu       sync.Mutex
	pending  []int64
	prepared []int64
	fail     map[int64]error
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func (m *mockPreparer) ListUploaded(ctx context.Context, limit int) ([]*entity.BatchItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []*entity.BatchItem{}
	for _, id := range m.pending {
		if limit > 0 && len(items) == limit {
			break
		}
		items = append(items, &entity.BatchItem{ID: id})
	}
	return items, nil
}

func (m *mockPreparer) Prepare(ctx context.Context, id int64) ([]*entity.BatchItem, error) {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&m.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&m.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(m.delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	if err := m.fail[id]; err != nil {
		return nil, err
	}
	m.prepared = append(m.prepared, id)
	return []*entity.BatchItem{{ID: id}}, nil
}

func TestPrepareWorker_ProcessOnce(t *testing.T) {
	p := &mockPreparer{
		pending: []int64{1, 2, 3, 4, 5},
		fail: map[int64]error{
			2: errors.New("boom"),
			3: service.ErrInvalidState,
		},
		delay: 10 * time.Millisecond,
	}
	w := NewPrepareWorker(PrepareWorkerConfig{BatchSize: 4, Concurrency: 2}, p, zap.NewNop())

	require.NoError(t, w.ProcessOnce(context.Background()))

	assert.ElementsMatch(t, []int64{1, 4}, p.prepared)
	assert.Equal(t, []int64{5}, p.pending)
	assert.LessOrEqual(t, atomic.LoadInt32(&p.maxSeen), int32(2))
	assert.Equal(t, 2, w.prepared)
	assert.Equal(t, 1, w.failed)
}

func TestPrepareWorker_StartStop(t *testing.T) {
	p := &mockPreparer{pending: []int64{7, 8}}
	w := NewPrepareWorker(PrepareWorkerConfig{PollInterval: 5 * time.Millisecond}, p, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.prepared) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

type fakeWorker struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeWorker) Start(ctx context.Context) error {
	*f.events = append(*f.events, "start "+f.name)
	return f.startErr
}

func (f *fakeWorker) Stop() error {
	*f.events = append(*f.events, "stop "+f.name)
	return nil
}

func (f *fakeWorker) Name() string { return f.name }

func TestManager_Lifecycle(t *testing.T) {
	var events []string
	m := NewManager(zap.NewNop())
	m.Register(&fakeWorker{name: "a", events: &events})
	m.Register(&fakeWorker{name: "b", startErr: errors.New("no"), events: &events})
	m.Register(&fakeWorker{name: "c", events: &events})
	assert.Equal(t, 3, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, events)
}
