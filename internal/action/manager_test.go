package action

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/map-editor/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// edit открывает действие, меняет area id чанка и закрывает действие
func edit(t *testing.T, m *Manager, c *world.Chunk, area uint32) *Action {
	t.Helper()
	a := m.BeginAction(nil, KindAreaID, ModalityNone)
	a.RegisterAreaIDChange(c)
	c.SetAreaID(area)
	require.NoError(t, m.EndAction())
	return a
}

func TestManager_BeginIsReentrant(t *testing.T) {
	m := NewManager()
	a := m.BeginAction(nil, KindTerrainHeights, ModalityNone)
	b := m.BeginAction(nil, KindHoles, ModalityShift)

	assert.Same(t, a, b, "Вложенный BeginAction возвращает открытое действие")
	assert.Equal(t, 1, m.Len())
	require.NoError(t, m.EndAction())
	assert.Nil(t, m.CurrentAction())
}

func TestManager_UndoRedo(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})
	ctx := context.Background()

	edit(t, m, c, 1)
	edit(t, m, c, 2)
	edit(t, m, c, 3)
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())

	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, uint32(2), c.AreaID())
	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, uint32(1), c.AreaID())
	assert.Equal(t, 2, m.RedoIndex())

	require.NoError(t, m.Redo(ctx))
	assert.Equal(t, uint32(2), c.AreaID())
	assert.Equal(t, 1, m.RedoIndex())
}

func TestManager_BoundariesAreNoOps(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})
	ctx := context.Background()

	require.NoError(t, m.Undo(ctx), "Undo пустой истории ничего не делает")
	require.NoError(t, m.Redo(ctx))

	edit(t, m, c, 5)
	require.NoError(t, m.Undo(ctx))
	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, 1, m.RedoIndex())
	assert.Equal(t, uint32(0), c.AreaID())

	require.NoError(t, m.Redo(ctx))
	require.NoError(t, m.Redo(ctx))
	assert.Equal(t, 0, m.RedoIndex())
	assert.Equal(t, uint32(5), c.AreaID())
}

func TestManager_HistoryBound(t *testing.T) {
	m := NewManager(WithLimit(3))
	c := world.NewChunk(world.ChunkKey{})

	first := edit(t, m, c, 1)
	for i := uint32(2); i <= 4; i++ {
		edit(t, m, c, i)
	}

	assert.Equal(t, 3, m.Len())
	for _, a := range m.Actions() {
		assert.NotSame(t, first, a, "Самое старое действие должно быть вытеснено")
	}
}

func TestManager_TruncateOnNewEdit(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})
	ctx := context.Background()

	var events []Event
	m.Subscribe(func(ev Event) { events = append(events, ev) })

	edit(t, m, c, 1)
	edit(t, m, c, 2)
	edit(t, m, c, 3)
	require.NoError(t, m.Undo(ctx))
	require.NoError(t, m.Undo(ctx))

	events = nil
	edit(t, m, c, 9)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 0, m.RedoIndex())
	assert.False(t, m.CanRedo())

	require.NoError(t, m.Redo(ctx))
	assert.Equal(t, uint32(9), c.AreaID(), "Redo после новой правки ничего не делает")

	require.NotEmpty(t, events)
	assert.Equal(t, EventEvictedBack, events[0].Type)
	assert.Equal(t, 2, events[0].Count)
}

func TestManager_TransientActionNotRecorded(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})
	ctx := context.Background()

	edit(t, m, c, 1)
	edit(t, m, c, 2)
	require.NoError(t, m.Undo(ctx))

	a := m.BeginAction(nil, KindAreaID|DoNotWriteHistory, ModalityNone)
	a.RegisterAreaIDChange(c)
	c.SetAreaID(77)
	require.NoError(t, m.EndAction())

	assert.Equal(t, uint32(77), c.AreaID(), "Изменение выполняется")
	assert.Equal(t, 2, m.Len(), "Транзиентное действие не попадает в историю")
	assert.Equal(t, 1, m.RedoIndex(), "Транзиентное действие не обрезает ветку redo")
}

func TestManager_ModalityAutoClose(t *testing.T) {
	m := NewManager()
	a := m.BeginAction(nil, KindTerrainHeights, ModalityShift|ModalityLMB)

	assert.False(t, m.EndActionOnModalityMismatch(ModalityShift|ModalityLMB|ModalityCtrl))
	assert.Same(t, a, m.CurrentAction())

	assert.True(t, m.EndActionOnModalityMismatch(ModalityLMB), "Отпущенный Shift закрывает действие")
	assert.Nil(t, m.CurrentAction())
	assert.True(t, a.Finished())

	b := m.BeginAction(nil, KindTerrainHeights, ModalityShift|ModalityLMB)
	assert.NotSame(t, a, b)
	require.NoError(t, m.EndAction())
}

func TestManager_ModalityNoneNeverAutoCloses(t *testing.T) {
	m := NewManager()
	m.BeginAction(nil, KindHoles, ModalityNone)
	assert.False(t, m.EndActionOnModalityMismatch(ModalityNone))
	assert.NotNil(t, m.CurrentAction())
}

func TestManager_MisuseErrors(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	assert.ErrorIs(t, m.EndAction(), ErrNoOpenAction)

	m.BeginAction(nil, KindAreaID, ModalityNone)
	assert.ErrorIs(t, m.Undo(ctx), ErrActionOpen)
	assert.ErrorIs(t, m.Redo(ctx), ErrActionOpen)
	assert.ErrorIs(t, m.Purge(), ErrActionOpen)
	assert.ErrorIs(t, m.SetCurrentAction(ctx, 0), ErrActionOpen)
	require.NoError(t, m.EndAction())

	assert.ErrorIs(t, m.SetCurrentAction(ctx, 5), ErrIndexOutOfRange)
	assert.ErrorIs(t, m.SetLimit(0), ErrInvalidLimit)
	assert.ErrorIs(t, m.SetLimit(-1), ErrMisuse)
}

func TestManager_SetCurrentAction(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})
	ctx := context.Background()

	for i := uint32(1); i <= 5; i++ {
		edit(t, m, c, i)
	}

	require.NoError(t, m.SetCurrentAction(ctx, 1))
	assert.Equal(t, uint32(2), c.AreaID())
	assert.Equal(t, 3, m.RedoIndex())

	require.NoError(t, m.SetCurrentAction(ctx, 3))
	assert.Equal(t, uint32(4), c.AreaID())

	require.NoError(t, m.SetCurrentAction(ctx, -1))
	assert.Equal(t, uint32(0), c.AreaID())
	assert.Equal(t, 5, m.RedoIndex())

	require.NoError(t, m.SetCurrentAction(ctx, 4))
	assert.Equal(t, uint32(5), c.AreaID())
	assert.Equal(t, 0, m.RedoIndex())
}

func TestManager_Purge(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})

	var purged []Event
	unsubscribe := m.Subscribe(func(ev Event) {
		if ev.Type == EventHistoryPurged {
			purged = append(purged, ev)
		}
	})

	edit(t, m, c, 1)
	edit(t, m, c, 2)
	require.NoError(t, m.Undo(context.Background()))

	require.NoError(t, m.Purge())
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.RedoIndex())
	assert.False(t, m.CanUndo())
	require.Len(t, purged, 1)
	assert.Equal(t, 2, purged[0].Count)

	unsubscribe()
	require.NoError(t, m.Purge())
	assert.Len(t, purged, 1, "После отписки события не приходят")
}

func TestManager_SetLimitEvictsOldest(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})
	ctx := context.Background()

	for i := uint32(1); i <= 5; i++ {
		edit(t, m, c, i)
	}
	require.NoError(t, m.SetLimit(2))
	assert.Equal(t, 2, m.Limit())
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Undo(ctx))
	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, uint32(3), c.AreaID())
	assert.False(t, m.CanUndo())
}

func TestManager_SetLimitKeepsUndoneActions(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})
	ctx := context.Background()

	for i := uint32(1); i <= 5; i++ {
		edit(t, m, c, i)
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Undo(ctx))
	}
	require.Equal(t, uint32(1), c.AreaID())

	require.NoError(t, m.SetLimit(2))
	assert.Equal(t, 4, m.Len(), "Вытесняются только применённые действия")
	assert.Equal(t, 4, m.RedoIndex())
	assert.False(t, m.CanUndo())

	for want := uint32(2); want <= 5; want++ {
		require.NoError(t, m.Redo(ctx))
		assert.Equal(t, want, c.AreaID(), "Повтор применяет действия строго по порядку")
	}

	// Новое действие после отмены отбрасывает ветку redo и дожимает историю до лимита
	for i := 0; i < 2; i++ {
		require.NoError(t, m.Undo(ctx))
	}
	edit(t, m, c, 9)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 0, m.RedoIndex())

	require.NoError(t, m.Undo(ctx))
	assert.Equal(t, uint32(3), c.AreaID())
}

func TestManager_PostCallbackMayReadManager(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})

	a := m.BeginAction(nil, KindAreaID, ModalityNone)
	a.RegisterAreaIDChange(c)
	c.SetAreaID(7)

	var canUndo bool
	var length int
	a.SetPostCallback(func() {
		canUndo = m.CanUndo()
		length = m.Len()
	})

	done := make(chan error, 1)
	go func() { done <- m.EndAction() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("EndAction не вернулся: post-callback заблокирован менеджером")
	}
	assert.True(t, canUndo)
	assert.Equal(t, 1, length)
	assert.True(t, a.Finished())
}

func TestManager_EventOrder(t *testing.T) {
	m := NewManager()
	c := world.NewChunk(world.ChunkKey{})

	var types []EventType
	m.Subscribe(func(ev Event) { types = append(types, ev.Type) })

	edit(t, m, c, 1)
	assert.Equal(t, []EventType{EventActionOpened, EventActionAppended, EventActionClosed, EventCursorChanged}, types)
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := NewManager(WithMetrics(metrics))
	c := world.NewChunk(world.ChunkKey{})

	edit(t, m, c, 1)
	edit(t, m, c, 2)
	require.NoError(t, m.Undo(context.Background()))

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.actions.WithLabelValues("recorded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.replays.WithLabelValues("undo", "ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.historyLen))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.redoIndex))
}

func TestManager_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := NewManager(WithTracer(tp.Tracer("test")))
	c := world.NewChunk(world.ChunkKey{})
	ctx := context.Background()

	edit(t, m, c, 1)
	edit(t, m, c, 2)
	require.NoError(t, m.Undo(ctx))
	require.NoError(t, m.Redo(ctx))
	require.NoError(t, m.SetCurrentAction(ctx, -1))

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"action.undo", "action.redo", "action.undo", "action.undo", "action.set_current"}, names)
}
