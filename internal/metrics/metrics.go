package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// instancesRunning tracks supervised processes currently alive
	instancesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "servervisor_instances_running",
			Help: "Number of supervised server processes currently running",
		},
	)

	instanceStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servervisor_instance_starts_total",
			Help: "Total successful launches by server",
		},
		[]string{"server"},
	)

	// instanceStops counts intentional stops, mode is graceful or forced
	instanceStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servervisor_instance_stops_total",
			Help: "Total intentional stops by server and mode",
		},
		[]string{"server", "mode"},
	)

	instanceCrashes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servervisor_instance_crashes_total",
			Help: "Total unexpected process exits by server",
		},
		[]string{"server"},
	)

	commandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servervisor_commands_total",
			Help: "Total console commands written by server and result",
		},
		[]string{"server", "result"},
	)

	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servervisor_webhook_deliveries_total",
			Help: "Total webhook notifications by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	logOffloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servervisor_log_offloads_total",
			Help: "Total archived console log uploads by destination and result",
		},
		[]string{"destination", "result"},
	)

	onlinePlayers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "servervisor_online_players",
			Help: "Players currently believed online, derived from server logs",
		},
		[]string{"server"},
	)

	processCPU = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "servervisor_process_cpu_percent",
			Help: "CPU usage of the supervised process over the last sample interval",
		},
		[]string{"server"},
	)

	processResident = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "servervisor_process_resident_bytes",
			Help: "Resident memory of the supervised process",
		},
		[]string{"server"},
	)
)

// Recorder exposes supervisor and webhook events as prometheus series
type Recorder struct{}

// NewRecorder returns a recorder bound to the default registry
func NewRecorder() *Recorder {
	return &Recorder{}
}

// InstanceStarted records a successful launch
func (Recorder) InstanceStarted(server string) {
	instanceStarts.WithLabelValues(server).Inc()
	instancesRunning.Inc()
}

// InstanceStopped records an intentional stop
func (Recorder) InstanceStopped(server string, forced bool) {
	mode := "graceful"
	if forced {
		mode = "forced"
	}
	instanceStops.WithLabelValues(server, mode).Inc()
}

// InstanceExited records a reconciled exit, crashed or not
func (Recorder) InstanceExited(server string, crashed bool) {
	if crashed {
		instanceCrashes.WithLabelValues(server).Inc()
	}
	instancesRunning.Dec()
	onlinePlayers.DeleteLabelValues(server)
	processCPU.DeleteLabelValues(server)
	processResident.DeleteLabelValues(server)
}

// CommandSent records a console command write
func (Recorder) CommandSent(server string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	commandsSent.WithLabelValues(server, result).Inc()
}

// PlayersOnline sets the presence gauge for server
func (Recorder) PlayersOnline(server string, count int) {
	onlinePlayers.WithLabelValues(server).Set(float64(count))
}

// ObserveWebhook records a webhook delivery outcome
func (Recorder) ObserveWebhook(trigger, result string) {
	webhookDeliveries.WithLabelValues(trigger, result).Inc()
}

// ObserveOffload records an archived log upload outcome
func (Recorder) ObserveOffload(destination, result string) {
	logOffloads.WithLabelValues(destination, result).Inc()
}
