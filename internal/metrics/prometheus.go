package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cloudnet"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all daemon metrics.
type Registry struct {
	// Reconciliation
	ReconcilePasses   *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	LinkErrors        *prometheus.CounterVec
	KernelOps         *prometheus.CounterVec
	MetadataFetches   *prometheus.CounterVec

	// Applied state
	ManagedAddresses prometheus.Gauge
	ManagedRules     prometheus.Gauge
	ManagedRoutes    prometheus.Gauge

	// Interface metrics
	InterfaceRxBytes   *prometheus.GaugeVec
	InterfaceTxBytes   *prometheus.GaugeVec
	InterfaceRxPackets *prometheus.GaugeVec
	InterfaceTxPackets *prometheus.GaugeVec
	InterfaceErrors    *prometheus.GaugeVec
	GatewayReachable   *prometheus.GaugeVec

	// System metrics
	Uptime       prometheus.Gauge
	ConfigReload *prometheus.CounterVec
	APIRequests  *prometheus.CounterVec
	APILatency   *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.ReconcilePasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_passes_total",
		Help:      "Reconciliation passes by result",
	}, []string{"result"})

	r.ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Time spent in a full acquire/configure/save pass",
		Buckets:   prometheus.DefBuckets,
	})

	r.LinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_errors_total",
		Help:      "Per-link reconciliation failures",
	}, []string{"link"})

	r.KernelOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kernel_ops_total",
		Help:      "Netlink mutations by object, operation and result",
	}, []string{"object", "op", "result"})

	r.MetadataFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metadata_fetch_total",
		Help:      "Metadata service fetches by provider and result",
	}, []string{"provider", "result"})

	r.ManagedAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "managed_addresses",
		Help:      "Addresses currently tracked as applied",
	})

	r.ManagedRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "managed_rules",
		Help:      "Policy rules currently tracked as applied",
	})

	r.ManagedRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "managed_routes",
		Help:      "Per-link default routes currently tracked as applied",
	})

	r.InterfaceRxBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_rx_bytes",
		Help:      "Bytes received on a managed interface",
	}, []string{"interface"})

	r.InterfaceTxBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_tx_bytes",
		Help:      "Bytes transmitted on a managed interface",
	}, []string{"interface"})

	r.InterfaceRxPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_rx_packets",
		Help:      "Packets received on a managed interface",
	}, []string{"interface"})

	r.InterfaceTxPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_tx_packets",
		Help:      "Packets transmitted on a managed interface",
	}, []string{"interface"})

	r.InterfaceErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_errors",
		Help:      "Interface errors by direction",
	}, []string{"interface", "direction"})

	r.GatewayReachable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gateway_reachable",
		Help:      "1 if the last ICMP probe of the link gateway succeeded",
	}, []string{"interface"})

	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Daemon uptime in seconds",
	})

	r.ConfigReload = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_reloads_total",
		Help:      "Total configuration reloads",
	}, []string{"status"})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// RecordPass records the outcome of one reconciliation pass.
func (r *Registry) RecordPass(d time.Duration, err error) {
	r.ReconcileDuration.Observe(d.Seconds())
	r.ReconcilePasses.WithLabelValues(result(err)).Inc()
}

// RecordKernelOp records one netlink mutation.
func (r *Registry) RecordKernelOp(object, op string, err error) {
	r.KernelOps.WithLabelValues(object, op, result(err)).Inc()
}

// RecordMetadataFetch records one metadata service round trip.
func (r *Registry) RecordMetadataFetch(provider string, err error) {
	r.MetadataFetches.WithLabelValues(provider, result(err)).Inc()
}

// SetManaged publishes the size of the applied-state baseline.
func (r *Registry) SetManaged(addresses, rules, routes int) {
	r.ManagedAddresses.Set(float64(addresses))
	r.ManagedRules.Set(float64(rules))
	r.ManagedRoutes.Set(float64(routes))
}

// RecordConfigReload records a SIGHUP or API driven reload.
func (r *Registry) RecordConfigReload(err error) {
	r.ConfigReload.WithLabelValues(result(err)).Inc()
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
