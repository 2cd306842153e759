package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SnapshotSource reports the configuration currently being served. ok is
// false before the first successful load.
type SnapshotSource interface {
	SnapshotStats() (flags int, loadedAt time.Time, ok bool)
}

type snapshotCollector struct {
	mu     sync.Mutex
	source SnapshotSource

	flags    *prometheus.Desc
	loadedAt *prometheus.Desc
}

func newSnapshotCollector(source SnapshotSource) *snapshotCollector {
	return &snapshotCollector{
		source: source,
		flags: prometheus.NewDesc(
			"flagfile_config_flags",
			"Number of flags in the active configuration.",
			nil, nil,
		),
		loadedAt: prometheus.NewDesc(
			"flagfile_config_last_load_timestamp_seconds",
			"Unix time the active configuration was loaded.",
			nil, nil,
		),
	}
}

// RegisterSnapshotMetrics registers gauges that report the live configuration
// size and load time on every scrape. Only one source can be registered per
// registry.
func RegisterSnapshotMetrics(reg prometheus.Registerer, source SnapshotSource) error {
	return reg.Register(newSnapshotCollector(source))
}

// AttachSnapshotSource points the configuration gauges in reg at source,
// registering them on first use and taking them over from any source attached
// earlier. detach stops reporting source unless another source has replaced it
// in the meantime.
func AttachSnapshotSource(reg prometheus.Registerer, source SnapshotSource) (detach func(), err error) {
	c := newSnapshotCollector(source)
	if err := reg.Register(c); err != nil {
		var registered prometheus.AlreadyRegisteredError
		if !errors.As(err, &registered) {
			return nil, err
		}
		existing, ok := registered.ExistingCollector.(*snapshotCollector)
		if !ok {
			return nil, err
		}
		existing.setSource(source)
		c = existing
	}
	return func() { c.clearSource(source) }, nil
}

func (c *snapshotCollector) setSource(source SnapshotSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = source
}

func (c *snapshotCollector) clearSource(source SnapshotSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == source {
		c.source = nil
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.flags
	ch <- c.loadedAt
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()

	var (
		flags    int
		loadedAt time.Time
		ok       bool
	)
	if source != nil {
		flags, loadedAt, ok = source.SnapshotStats()
	}
	if !ok {
		ch <- prometheus.MustNewConstMetric(c.flags, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.flags, prometheus.GaugeValue, float64(flags))
	ch <- prometheus.MustNewConstMetric(c.loadedAt, prometheus.GaugeValue, float64(loadedAt.UnixNano())/1e9)
}
