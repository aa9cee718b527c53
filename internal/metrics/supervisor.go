// Package metrics provides supervisor metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// States exported on the state gauge, one series per state.
var States = []string{"stopped", "running", "restarting", "hibernating"}

// SupervisorMetrics contains Prometheus metrics for the camera watchdog
type SupervisorMetrics struct {
	restartsTotal     *prometheus.CounterVec
	hibernationsTotal *prometheus.CounterVec
	alertsTotal       *prometheus.CounterVec
	heartbeatsTotal   *prometheus.CounterVec
	workerLinesTotal  *prometheus.CounterVec
	cameraState       *prometheus.GaugeVec
	retries           *prometheus.GaugeVec
}

// NewSupervisorMetrics creates and registers the supervisor metrics
func NewSupervisorMetrics(registry prometheus.Registerer) (*SupervisorMetrics, error) {
	m := &SupervisorMetrics{
		restartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_worker_restarts_total",
			Help: "Total number of watchdog-initiated worker restarts",
		}, []string{"camera"}),
		hibernationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_worker_hibernations_total",
			Help: "Total number of times a camera entered hibernation",
		}, []string{"camera"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_watchdog_alerts_total",
			Help: "Total number of watchdog alerts sent",
		}, []string{"camera", "status"}), // status: success, error
		heartbeatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_worker_heartbeats_total",
			Help: "Total number of heartbeat lines received from workers",
		}, []string{"camera"}),
		workerLinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_worker_output_lines_total",
			Help: "Total number of output lines read from workers",
		}, []string{"camera", "stream"}),
		cameraState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "herdwatch_camera_state",
			Help: "Current supervisor state per camera (1 for the active state)",
		}, []string{"camera", "state"}),
		retries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "herdwatch_camera_retries",
			Help: "Consecutive restarts since the last heartbeat",
		}, []string{"camera"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SupervisorMetrics) RecordRestart(camera string) {
	m.restartsTotal.WithLabelValues(camera).Inc()
}

func (m *SupervisorMetrics) RecordHibernation(camera string) {
	m.hibernationsTotal.WithLabelValues(camera).Inc()
}

func (m *SupervisorMetrics) RecordAlert(camera string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.alertsTotal.WithLabelValues(camera, status).Inc()
}

func (m *SupervisorMetrics) RecordHeartbeat(camera string) {
	m.heartbeatsTotal.WithLabelValues(camera).Inc()
}

func (m *SupervisorMetrics) RecordLine(camera, stream string) {
	m.workerLinesTotal.WithLabelValues(camera, stream).Inc()
}

// SetState sets the gauge of state to 1 and all other states to 0.
func (m *SupervisorMetrics) SetState(camera, state string, retries int) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.cameraState.WithLabelValues(camera, s).Set(v)
	}
	m.retries.WithLabelValues(camera).Set(float64(retries))
}

// Describe implements prometheus.Collector
func (m *SupervisorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.restartsTotal.Describe(ch)
	m.hibernationsTotal.Describe(ch)
	m.alertsTotal.Describe(ch)
	m.heartbeatsTotal.Describe(ch)
	m.workerLinesTotal.Describe(ch)
	m.cameraState.Describe(ch)
	m.retries.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *SupervisorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.restartsTotal.Collect(ch)
	m.hibernationsTotal.Collect(ch)
	m.alertsTotal.Collect(ch)
	m.heartbeatsTotal.Collect(ch)
	m.workerLinesTotal.Collect(ch)
	m.cameraState.Collect(ch)
	m.retries.Collect(ch)
}
