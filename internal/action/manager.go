package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annel0/map-editor/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLimit ёмкость истории по умолчанию
const DefaultLimit = 30

const tracerName = "github.com/annel0/map-editor/internal/action"

// Manager владеет ограниченной историей действий, курсором redo и открытым действием.
// Один экземпляр на сессию редактора; передаётся инструментам явно.
type Manager struct {
	mu        sync.Mutex
	history   []*Action
	limit     int
	redoIndex int
	current   *Action

	loadTimeout time.Duration
	log         *logging.Logger
	metrics     *Metrics
	tracer      trace.Tracer

	pending   []Event
	callbacks []func()

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObsID int
}

// Option настраивает Manager
type Option func(*Manager)

// WithLimit задаёт ёмкость истории; неположительные значения игнорируются
func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithLogger задаёт логгер менеджера и его действий
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics подключает Prometheus-метрики
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer задаёт трейсер для span-ов undo/redo
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithLoadTimeout ограничивает ожидание загрузчика при воспроизведении объектов.
// 0 означает ждать без ограничения.
func WithLoadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.loadTimeout = d
		}
	}
}

// NewManager создаёт менеджер истории
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		limit:     DefaultLimit,
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.GetActionsLogger()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	return m
}

// Subscribe регистрирует наблюдателя; возвращает функцию отписки
func (m *Manager) Subscribe(obs Observer) func() {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = obs
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// emit копит событие; рассылка выполняется после снятия блокировки
func (m *Manager) emit(ev Event) {
	ev.RedoIndex = m.redoIndex
	ev.Len = len(m.history)
	m.pending = append(m.pending, ev)
}

// unlock снимает блокировку, вызывает отложенные post-callback и рассылает
// накопленные события. Оба вида вызовов могут обращаться к менеджеру.
func (m *Manager) unlock() {
	events := m.pending
	callbacks := m.callbacks
	m.pending = nil
	m.callbacks = nil
	m.metrics.observeHistory(len(m.history), m.redoIndex)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	if len(events) == 0 {
		return
	}

	m.obsMu.RLock()
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, m.observers[id])
	}
	m.obsMu.RUnlock()

	for _, ev := range events {
		for _, obs := range observers {
			obs(ev)
		}
	}
}

// BeginAction открывает транзакцию. Если транзакция уже открыта, возвращается она же.
// Нетранзиентное действие отбрасывает отменённые шаги и при заполненной
// истории вытесняет самое старое действие.
func (m *Manager) BeginAction(ws *Workspace, flags MutationKind, modality Modality) *Action {
	m.mu.Lock()
	defer m.unlock()

	if m.current != nil {
		return m.current
	}

	a := newAction(ws, flags, modality, m.log)

	if flags&DoNotWriteHistory == 0 {
		if m.redoIndex > 0 {
			dropped := m.redoIndex
			m.history = m.history[:len(m.history)-dropped]
			m.redoIndex = 0
			m.metrics.observeEvicted(dropped)
			m.log.Debug("Отброшено %d отменённых действий", dropped)
			m.emit(Event{Type: EventEvictedBack, Count: dropped})
		}
		if len(m.history) >= m.limit {
			m.evictFront(len(m.history) - m.limit + 1)
		}
		m.history = append(m.history, a)
	}

	m.current = a
	m.emit(Event{Type: EventActionOpened, ActionID: a.id, Flags: flags})
	return a
}

func (m *Manager) evictFront(n int) {
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		m.history[i] = nil
	}
	m.history = append([]*Action(nil), m.history[n:]...)
	m.metrics.observeEvicted(n)
	m.emit(Event{Type: EventEvictedFront, Count: n})
}

// EndAction закрывает открытую транзакцию: снимает пост-снимки и, если действие
// не транзиентное, оставляет его в истории
func (m *Manager) EndAction() error {
	m.mu.Lock()
	defer m.unlock()
	return m.endLocked()
}

func (m *Manager) endLocked() error {
	a := m.current
	if a == nil {
		return ErrNoOpenAction
	}

	if cb := a.finishSnapshots(); cb != nil {
		m.callbacks = append(m.callbacks, cb)
	}
	transient := a.flags&DoNotWriteHistory != 0
	m.metrics.observeClose(transient)
	if transient {
		m.log.Debug("Действие %s выполнено без записи в историю", a.id)
	} else {
		m.log.Debug("Действие %s записано (%s)", a.id, a.flags)
		m.emit(Event{Type: EventActionAppended, ActionID: a.id, Flags: a.flags})
	}

	m.current = nil
	m.emit(Event{Type: EventActionClosed, ActionID: a.id, Flags: a.flags})
	m.emit(Event{Type: EventCursorChanged})
	return nil
}

// EndActionOnModalityMismatch закрывает открытую транзакцию, если удерживаемая
// модальность больше не покрывает заявленную. Возвращает true, если транзакция закрыта.
func (m *Manager) EndActionOnModalityMismatch(held Modality) bool {
	m.mu.Lock()
	defer m.unlock()

	a := m.current
	if a == nil || a.modality == ModalityNone || held.Covers(a.modality) {
		return false
	}
	m.log.Trace("Модальность %b не покрывает %b, закрываем действие %s", held, a.modality, a.id)
	return m.endLocked() == nil
}

// Undo отменяет действие под курсором. На нижней границе истории ничего не делает.
// Курсор сдвигается даже при ошибке воспроизведения объектов.
func (m *Manager) Undo(ctx context.Context) error {
	m.mu.Lock()
	defer m.unlock()

	if m.current != nil {
		return ErrActionOpen
	}
	return m.stepLocked(ctx, false)
}

// Redo повторяет ближайшее отменённое действие. На вершине истории ничего не делает.
func (m *Manager) Redo(ctx context.Context) error {
	m.mu.Lock()
	defer m.unlock()

	if m.current != nil {
		return ErrActionOpen
	}
	return m.stepLocked(ctx, true)
}

func (m *Manager) stepLocked(ctx context.Context, redo bool) error {
	var idx int
	if redo {
		if m.redoIndex == 0 {
			return nil
		}
		idx = len(m.history) - m.redoIndex
	} else {
		if len(m.history) == 0 || m.redoIndex >= len(m.history) {
			return nil
		}
		idx = len(m.history) - m.redoIndex - 1
	}

	direction := "undo"
	if redo {
		direction = "redo"
	}
	a := m.history[idx]

	ctx, span := m.tracer.Start(ctx, "action."+direction, trace.WithAttributes(
		attribute.String("action.id", a.id.String()),
		attribute.String("action.flags", a.flags.String()),
		attribute.Int("history.index", idx),
	))
	defer span.End()

	if m.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.loadTimeout)
		defer cancel()
	}

	started := time.Now()
	err := a.Undo(ctx, redo)
	m.metrics.observeReplay(direction, started, err)

	if redo {
		m.redoIndex--
	} else {
		m.redoIndex++
	}
	m.emit(Event{Type: EventCursorChanged, ActionID: a.id, Flags: a.flags})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.log.Error("Ошибка %s действия %s: %v", direction, a.id, err)
		return fmt.Errorf("%s %s: %w", direction, a.id, err)
	}
	m.log.Trace("%s действия %s, курсор %d", direction, a.id, m.redoIndex)
	return nil
}

// SetCurrentAction пошагово отменяет или повторяет действия, пока последним
// применённым не станет действие с индексом index. -1 означает «всё отменено».
func (m *Manager) SetCurrentAction(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.unlock()

	if m.current != nil {
		return ErrActionOpen
	}
	if index < -1 || index >= len(m.history) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(m.history))
	}

	ctx, span := m.tracer.Start(ctx, "action.set_current", trace.WithAttributes(
		attribute.Int("history.target", index),
	))
	defer span.End()

	for {
		position := len(m.history) - m.redoIndex - 1
		var err error
		switch {
		case position > index:
			err = m.stepLocked(ctx, false)
		case position < index:
			err = m.stepLocked(ctx, true)
		default:
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
}

// Purge очищает историю. Вызывается после полного сохранения документа.
func (m *Manager) Purge() error {
	m.mu.Lock()
	defer m.unlock()

	if m.current != nil {
		return ErrActionOpen
	}
	n := len(m.history)
	for i := range m.history {
		m.history[i] = nil
	}
	m.history = nil
	m.redoIndex = 0
	m.metrics.observePurge()
	m.log.Info("История очищена (%d действий)", n)
	m.emit(Event{Type: EventHistoryPurged, Count: n})
	return nil
}

// SetLimit меняет ёмкость истории. Вытесняются только применённые действия:
// отменённые остаются доступными для redo, пока следующий BeginAction не
// отбросит их и не дожмёт историю до нового лимита.
func (m *Manager) SetLimit(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}

	m.mu.Lock()
	defer m.unlock()

	m.limit = n
	over := len(m.history) - n
	if applied := len(m.history) - m.redoIndex; over > applied {
		over = applied
	}
	m.evictFront(over)
	return nil
}

// Len количество действий в истории
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Limit текущая ёмкость истории
func (m *Manager) Limit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

// RedoIndex на сколько шагов курсор отстоит от вершины истории
func (m *Manager) RedoIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redoIndex
}

// CanUndo есть ли что отменять
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == nil && m.redoIndex < len(m.history)
}

// CanRedo есть ли что повторять
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == nil && m.redoIndex > 0
}

// CurrentAction открытая транзакция или nil
func (m *Manager) CurrentAction() *Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Actions копия истории в хронологическом порядке
func (m *Manager) Actions() []*Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Action(nil), m.history...)
}
