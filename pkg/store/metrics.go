package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opInsert  = "insert"
	opUpdate  = "update"
	opDelete  = "delete"
	opLookup  = "lookup"
	opIterate = "iterate"

	resultSuccess = "success"
	resultError   = "error"
)

// metrics exports per-instance Prometheus collectors. A nil *metrics is valid
// and records nothing; it is what a store without UseStats carries.
type metrics struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	extentsInUse prometheus.GaugeFunc
	diskUsage    prometheus.GaugeFunc
}

func newMetrics(s *Store) *metrics {
	if !s.cfg.UseStats {
		return nil
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skadi_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "result"},
		),
		extentsInUse: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "skadi_allocator_extents_in_use",
				Help: "Number of device extents currently allocated",
			},
			func() float64 { return float64(s.alloc.InUse()) },
		),
		diskUsage: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "skadi_tree_disk_usage_bytes",
				Help: "Bytes on disk used by the tree engine",
			},
			func() float64 { return float64(s.tree.Stats().DiskUsage) },
		),
	}
}

func (m *metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// Registry returns the instance's Prometheus registry, or nil when the store
// was opened without UseStats.
func (s *Store) Registry() *prometheus.Registry {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.registry
}
