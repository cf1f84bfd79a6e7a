package action

import "github.com/google/uuid"

// EventType тип уведомления менеджера истории
type EventType string

const (
	EventActionOpened   EventType = "action.opened"
	EventActionClosed   EventType = "action.closed"
	EventActionAppended EventType = "action.appended"
	EventEvictedFront   EventType = "history.evicted_front"
	EventEvictedBack    EventType = "history.evicted_back"
	EventCursorChanged  EventType = "history.cursor_changed"
	EventHistoryPurged  EventType = "history.purged"
)

// Event уведомление наблюдателю. Поля заполняются по смыслу типа события:
// ActionID для opened/closed/appended, Count для вытеснений, RedoIndex и Len всегда.
type Event struct {
	Type      EventType
	ActionID  uuid.UUID
	Flags     MutationKind
	Count     int
	RedoIndex int
	Len       int
}

// Observer получает уведомления синхронно, в потоке вызова менеджера.
// Наблюдатель не должен обращаться к менеджеру изнутри обработчика.
type Observer func(Event)
