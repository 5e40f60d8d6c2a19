// Package metrics exposes a RAID engine's runtime state to Prometheus:
// per-volume rebuild position, extent state gauges, and counters for
// sub-I/O outcomes and range-lock wait. Grounded on the teacher's
// VictoriaMetricsWriter (metrics/victoriametrics_writer.go) for the
// periodic-flush-loop shape, adapted from that writer's push-to-a-
// remote-endpoint model to a pull-based prometheus.Registry since
// that's the idiom client_golang itself expects callers to use.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"helenraid.dev/hr/volume"
)

const defaultPollPeriod = 5 * time.Second

// Collector registers every gauge/counter this package exposes on reg
// and periodically samples a set of volumes to update them. Safe for
// concurrent AddVolume/RemoveVolume calls while Run is active.
type Collector struct {
	Log        *slog.Logger
	PollPeriod time.Duration

	rebuildPosition *prometheus.GaugeVec
	extentState     *prometheus.GaugeVec
	volumeState     *prometheus.GaugeVec
	capacityBytes   *prometheus.GaugeVec
	readErrors      *prometheus.CounterVec
	writeErrors     *prometheus.CounterVec
	rangeLockWait   prometheus.Histogram

	mu      sync.Mutex
	volumes map[string]*volume.Volume
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(log *slog.Logger, reg *prometheus.Registry) *Collector {
	c := &Collector{
		Log:        log.With("module", "metrics"),
		PollPeriod: defaultPollPeriod,
		volumes:    map[string]*volume.Volume{},

		rebuildPosition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hr",
			Name:      "rebuild_position_blocks",
			Help:      "Current rebuild position in blocks for a degraded volume's active rebuild.",
		}, []string{"volume", "devname"}),

		extentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hr",
			Name:      "extent_state",
			Help:      "Current state of one extent slot (model.ExtentState numeric value).",
		}, []string{"volume", "devname", "extent"}),

		volumeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hr",
			Name:      "volume_state",
			Help:      "Current volume state (model.VolumeState numeric value).",
		}, []string{"volume", "devname"}),

		capacityBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hr",
			Name:      "capacity_bytes",
			Help:      "Usable data capacity of a volume in bytes.",
		}, []string{"volume", "devname"}),

		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hr",
			Name:      "read_errors_total",
			Help:      "Sub-I/O read failures observed per extent.",
		}, []string{"volume", "extent"}),

		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hr",
			Name:      "write_errors_total",
			Help:      "Sub-I/O write failures observed per extent.",
		}, []string{"volume", "extent"}),

		rangeLockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hr",
			Name:      "range_lock_wait_seconds",
			Help:      "Time a write or rebuild step waited to acquire an overlapping range lock.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(c.rebuildPosition, c.extentState, c.volumeState, c.capacityBytes, c.readErrors, c.writeErrors, c.rangeLockWait)
	return c
}

// AddVolume registers v for periodic sampling.
func (c *Collector) AddVolume(v *volume.Volume) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volumes[v.ServiceID] = v
}

// RemoveVolume stops sampling v and clears its label series.
func (c *Collector) RemoveVolume(v *volume.Volume) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.volumes, v.ServiceID)
	c.rebuildPosition.DeletePartialMatch(prometheus.Labels{"volume": v.ServiceID})
	c.volumeState.DeletePartialMatch(prometheus.Labels{"volume": v.ServiceID})
	c.extentState.DeletePartialMatch(prometheus.Labels{"volume": v.ServiceID})
	c.capacityBytes.DeletePartialMatch(prometheus.Labels{"volume": v.ServiceID})
}

// RecordReadError increments the read-error counter for one extent.
func (c *Collector) RecordReadError(volumeID string, extent int) {
	c.readErrors.WithLabelValues(volumeID, itoa(extent)).Inc()
}

// RecordWriteError increments the write-error counter for one extent.
func (c *Collector) RecordWriteError(volumeID string, extent int) {
	c.writeErrors.WithLabelValues(volumeID, itoa(extent)).Inc()
}

// ObserveRangeLockWait records how long a caller waited to acquire an
// overlapping range lock.
func (c *Collector) ObserveRangeLockWait(d time.Duration) {
	c.rangeLockWait.Observe(d.Seconds())
}

// Run polls every registered volume on PollPeriod until ctx is
// cancelled, the same periodic-flush-loop shape as the teacher's
// VictoriaMetricsWriter, pushed here into gauge updates instead of an
// HTTP POST.
func (c *Collector) Run(ctx context.Context) {
	period := c.PollPeriod
	if period <= 0 {
		period = defaultPollPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	c.mu.Lock()
	vols := make([]*volume.Volume, 0, len(c.volumes))
	for _, v := range c.volumes {
		vols = append(vols, v)
	}
	c.mu.Unlock()

	for _, v := range vols {
		c.volumeState.WithLabelValues(v.ServiceID, v.Devname).Set(float64(v.State()))
		c.rebuildPosition.WithLabelValues(v.ServiceID, v.Devname).Set(float64(v.RebuildPosition()))
		c.capacityBytes.WithLabelValues(v.ServiceID, v.Devname).Set(float64(v.Size().Int64()))
		for i, ext := range v.Extents() {
			c.extentState.WithLabelValues(v.ServiceID, v.Devname, itoa(i)).Set(float64(ext.State))
		}
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
