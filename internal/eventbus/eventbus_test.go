package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/annel0/map-editor/internal/action"
	"github.com/annel0/map-editor/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) types() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int)
	for _, ev := range c.events {
		out[ev.EventType]++
	}
	return out
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var all, onlyCursor collector
	_, err := bus.Subscribe(context.Background(), Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), Filter{Types: []string{"history.cursor_changed"}}, onlyCursor.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "1", EventType: "action.opened"}))
	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "2", EventType: "history.cursor_changed"}))

	require.Eventually(t, func() bool { return all.len() == 2 && onlyCursor.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), bus.Metrics().Published)
	require.Eventually(t, func() bool { return bus.Metrics().Consumed == 3 }, time.Second, 5*time.Millisecond)
}

func TestMemoryBus_SourceFilterAndUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var c collector
	sub, err := bus.Subscribe(context.Background(), Filter{Sources: []string{"a"}}, c.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, &Envelope{Source: "b", EventType: "x"}))
	require.NoError(t, bus.Publish(ctx, &Envelope{Source: "a", EventType: "x"}))
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, bus.Publish(ctx, &Envelope{Source: "a", EventType: "x"}))
	require.Eventually(t, func() bool { return bus.Metrics().InFlight == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len(), "После отписки события не доставляются")
}

func TestMemoryBus_DropsLowPriorityWhenFull(t *testing.T) {
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, 1),
		capacity:    1,
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	// dispatchLoop не запущен: буфер не освобождается
	ctx := context.Background()
	require.NoError(t, mb.Publish(ctx, &Envelope{Priority: 1}))
	require.NoError(t, mb.Publish(ctx, &Envelope{Priority: 1}))
	assert.Equal(t, uint64(1), mb.Metrics().Dropped)

	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mb.Publish(tctx, &Envelope{Priority: 9}), context.DeadlineExceeded)
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), &Envelope{}), ErrClosed)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "editor.history.purged", Subject("history.purged"))
}

func TestHistoryPublisher_Attach(t *testing.T) {
	bus := NewMemoryBus(64)
	defer bus.Close()

	var c collector
	_, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)

	m := action.NewManager()
	detach := NewHistoryPublisher(bus, "session-1").Attach(m)

	act := m.BeginAction(nil, action.KindAreaID, action.ModalityNone)
	act.RegisterAreaIDChange(world.NewChunk(world.ChunkKey{}))
	require.NoError(t, m.EndAction())
	require.NoError(t, m.Purge())

	require.Eventually(t, func() bool { return c.len() == 5 }, time.Second, 5*time.Millisecond)
	types := c.types()
	assert.Equal(t, 1, types[string(action.EventActionOpened)])
	assert.Equal(t, 1, types[string(action.EventActionAppended)])
	assert.Equal(t, 1, types[string(action.EventActionClosed)])
	assert.Equal(t, 1, types[string(action.EventCursorChanged)])
	assert.Equal(t, 1, types[string(action.EventHistoryPurged)])

	c.mu.Lock()
	for _, ev := range c.events {
		assert.Equal(t, "session-1", ev.Source)
		assert.Equal(t, 1, ev.Version)
		assert.NotEmpty(t, ev.ID)
		if ev.EventType == string(action.EventActionAppended) {
			assert.Equal(t, act.ID().String(), ev.CorrelationID)
			var p HistoryPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &p))
			assert.Equal(t, 1, p.Len)
			assert.Equal(t, act.ID().String(), p.ActionID)
		}
	}
	c.mu.Unlock()

	detach()
	m.BeginAction(nil, action.KindAreaID, action.ModalityNone)
	require.NoError(t, m.EndAction())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 5, c.len(), "После отписки менеджер не публикует")
}

func TestHistoryPublisher_PurgeIsHighPriority(t *testing.T) {
	p := NewHistoryPublisher(NewMemoryBus(1), "s")
	env, err := p.Envelope(action.Event{Type: action.EventHistoryPurged})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, env.Priority, 5)
	assert.Empty(t, env.CorrelationID)

	env, err = p.Envelope(action.Event{Type: action.EventCursorChanged, RedoIndex: 2, Len: 3})
	require.NoError(t, err)
	assert.Less(t, env.Priority, 5)
}

func TestLoggingListener(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()

	sub, err := StartLoggingListener(bus)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), &Envelope{ID: "x", EventType: "action.closed"}))
	require.Eventually(t, func() bool { return bus.Metrics().Consumed == 1 }, time.Second, 5*time.Millisecond)
}

func TestMetricsExporter(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	_, err := bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	exp := NewMetricsExporter(bus, reg)
	exp.Start(5 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), &Envelope{EventType: "x"}))
	}
	require.Eventually(t, func() bool { return bus.Metrics().Consumed == 3 }, time.Second, 5*time.Millisecond)
	exp.Stop()
	exp.Stop()

	assert.Equal(t, float64(3), testutil.ToFloat64(exp.published))
	assert.Equal(t, float64(3), testutil.ToFloat64(exp.consumed))
	assert.Equal(t, float64(0), testutil.ToFloat64(exp.dropped))
}
