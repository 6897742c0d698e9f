package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one supervisor. A nil *Metrics
// records nothing.
type Metrics struct {
	starts         prometheus.Counter
	restarts       *prometheus.CounterVec // By result (ok/limited/failed)
	exits          *prometheus.CounterVec // By reason (stopped/killed/crashed)
	messages       *prometheus.CounterVec // By path
	decodeFailures prometheus.Counter
	storageWrites  *prometheus.CounterVec // By result (ok/error)
	state          prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, neaName string) (*Metrics, error) {
	labels := prometheus.Labels{"nea": neaName}
	m := &Metrics{
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nea",
			Subsystem:   "worker",
			Name:        "starts_total",
			Help:        "Total number of worker spawns",
			ConstLabels: labels,
		}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nea",
			Subsystem:   "worker",
			Name:        "restarts_total",
			Help:        "Automatic restarts after an unexpected worker exit",
			ConstLabels: labels,
		}, []string{"result"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nea",
			Subsystem:   "worker",
			Name:        "exits_total",
			Help:        "Worker exits by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nea",
			Subsystem:   "protocol",
			Name:        "messages_total",
			Help:        "Decoded worker messages by path",
			ConstLabels: labels,
		}, []string{"path"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nea",
			Subsystem:   "protocol",
			Name:        "decode_failures_total",
			Help:        "Worker messages that could not be decoded",
			ConstLabels: labels,
		}),
		storageWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nea",
			Subsystem:   "storage",
			Name:        "writes_total",
			Help:        "Provisions writes by result",
			ConstLabels: labels,
		}, []string{"result"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nea",
			Subsystem:   "supervisor",
			Name:        "state",
			Help:        "Supervisor state (0 stopped, 1 starting, 2 running, 3 stopping, 4 failed)",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{m.starts, m.restarts, m.exits, m.messages, m.decodeFailures, m.storageWrites, m.state} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.starts.Inc()
}

func (m *Metrics) restart(result string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(result).Inc()
}

func (m *Metrics) workerExited(reason string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(reason).Inc()
}

func (m *Metrics) message(path string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(path).Inc()
}

func (m *Metrics) decodeFailed() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) storageWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storageWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) setState(state State) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}
