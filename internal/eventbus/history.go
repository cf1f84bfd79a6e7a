package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/annel0/map-editor/internal/action"
	"github.com/annel0/map-editor/internal/logging"
	"github.com/google/uuid"
)

const (
	historyEventVersion = 1
	publishTimeout      = 200 * time.Millisecond
)

// HistoryPayload полезная нагрузка событий истории
type HistoryPayload struct {
	ActionID  string `json:"action_id,omitempty"`
	Flags     string `json:"flags,omitempty"`
	Count     int    `json:"count,omitempty"`
	RedoIndex int    `json:"redo_index"`
	Len       int    `json:"len"`
}

// HistoryPublisher транслирует уведомления менеджера истории в шину.
type HistoryPublisher struct {
	bus    EventBus
	source string
	log    *logging.Logger
}

// NewHistoryPublisher создаёт транслятор; source попадает в Envelope.Source
func NewHistoryPublisher(bus EventBus, source string) *HistoryPublisher {
	return &HistoryPublisher{bus: bus, source: source, log: logging.GetEventBusLogger()}
}

// Attach подписывается на менеджер. Возвращает функцию отписки.
func (p *HistoryPublisher) Attach(m *action.Manager) func() {
	return m.Subscribe(p.publish)
}

// Envelope собирает конверт для события истории
func (p *HistoryPublisher) Envelope(ev action.Event) (*Envelope, error) {
	payload := HistoryPayload{
		Count:     ev.Count,
		RedoIndex: ev.RedoIndex,
		Len:       ev.Len,
	}
	env := &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    p.source,
		EventType: string(ev.Type),
		Version:   historyEventVersion,
		Priority:  1,
	}
	if ev.ActionID != uuid.Nil {
		payload.ActionID = ev.ActionID.String()
		payload.Flags = ev.Flags.String()
		env.CorrelationID = payload.ActionID
	}
	// Сброс истории подписчики не должны терять
	if ev.Type == action.EventHistoryPurged {
		env.Priority = 7
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env.Payload = data
	return env, nil
}

func (p *HistoryPublisher) publish(ev action.Event) {
	env, err := p.Envelope(ev)
	if err != nil {
		p.log.Error("history: не удалось сериализовать %s: %v", ev.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.bus.Publish(ctx, env); err != nil {
		p.log.Warn("history: публикация %s не удалась: %v", ev.Type, err)
	}
}
