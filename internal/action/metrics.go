package action

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики менеджера истории
type Metrics struct {
	actions       *prometheus.CounterVec
	replays       *prometheus.CounterVec
	replayLatency *prometheus.HistogramVec
	evicted       prometheus.Counter
	purges        prometheus.Counter
	historyLen    prometheus.Gauge
	redoIndex     prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// При reg == nil используется глобальный регистр Prometheus.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "editor",
			Subsystem: "history",
			Name:      "actions_total",
			Help:      "Закрытые действия по результату (recorded, transient).",
		}, []string{"result"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "editor",
			Subsystem: "history",
			Name:      "replays_total",
			Help:      "Воспроизведения действий по направлению и результату.",
		}, []string{"direction", "result"}),
		replayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "editor",
			Subsystem: "history",
			Name:      "replay_seconds",
			Help:      "Длительность одного шага undo/redo.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"direction"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "editor",
			Subsystem: "history",
			Name:      "evicted_total",
			Help:      "Действия, вытесненные из истории лимитом или новой правкой.",
		}),
		purges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "editor",
			Subsystem: "history",
			Name:      "purges_total",
			Help:      "Полные очистки истории.",
		}),
		historyLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "editor",
			Subsystem: "history",
			Name:      "length",
			Help:      "Текущее число действий в истории.",
		}),
		redoIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "editor",
			Subsystem: "history",
			Name:      "redo_index",
			Help:      "На сколько шагов курсор отстоит от вершины истории.",
		}),
	}
	reg.MustRegister(m.actions, m.replays, m.replayLatency, m.evicted, m.purges, m.historyLen, m.redoIndex)
	return m
}

func (m *Metrics) observeClose(transient bool) {
	if m == nil {
		return
	}
	if transient {
		m.actions.WithLabelValues("transient").Inc()
		return
	}
	m.actions.WithLabelValues("recorded").Inc()
}

func (m *Metrics) observeReplay(direction string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.replays.WithLabelValues(direction, result).Inc()
	m.replayLatency.WithLabelValues(direction).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *Metrics) observePurge() {
	if m == nil {
		return
	}
	m.purges.Inc()
}

func (m *Metrics) observeHistory(length, redoIndex int) {
	if m == nil {
		return
	}
	m.historyLen.Set(float64(length))
	m.redoIndex.Set(float64(redoIndex))
}
