// Package metrics exports engine counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/session"
)

const (
	namespace = "motionlink"
	subsystem = "session"
)

// StatsFunc returns a current snapshot, typically Engine.Stats.
type StatsFunc func() (session.Stats, error)

// Collector reads a fresh snapshot on every scrape.
type Collector struct {
	stats  StatsFunc
	logger *logrus.Logger

	connected    *prometheus.Desc
	recording    *prometheus.Desc
	connectionID *prometheus.Desc
	samplingRate *prometheus.Desc
	pendingFlags *prometheus.Desc
	measured     *prometheus.Desc
	sent         *prometheus.Desc
	buffered     *prometheus.Desc
	dropped      *prometheus.Desc
	resendDepth  *prometheus.Desc
	submitted    *prometheus.Desc
	refused      *prometheus.Desc
	resent       *prometheus.Desc
	failures     *prometheus.Desc
	ignored      *prometheus.Desc
	disconnects  *prometheus.Desc
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

func NewCollector(stats StatsFunc, logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Collector{
		stats:        stats,
		logger:       logger,
		connected:    desc("connected", "1 while a companion is connected."),
		recording:    desc("recording", "1 while the sensor is recording."),
		connectionID: desc("connection_id", "Id of the current or last connection."),
		samplingRate: desc("sampling_rate_hertz", "Active sampling rate."),
		pendingFlags: desc("pending_flags", "Control flags waiting to be sent, as a bitset."),
		measured:     desc("samples_measured", "Samples measured in the current recording."),
		sent:         desc("samples_sent", "Samples sent in the current recording."),
		buffered:     desc("samples_buffered", "Samples waiting in the sample buffer."),
		dropped:      desc("samples_dropped", "Samples lost to buffer overflow in the current recording."),
		resendDepth:  desc("resend_queue_depth", "Failed messages waiting to be resent."),
		submitted:    desc("messages_submitted_total", "Messages accepted by the transport."),
		refused:      desc("messages_refused_total", "Messages refused synchronously by the transport."),
		resent:       desc("messages_resent_total", "Retransmissions accepted by the transport."),
		failures:     desc("delivery_failures_total", "Asynchronous delivery failures, benign ones excluded."),
		ignored:      desc("delivery_failures_ignored_total", "Benign delivery failures."),
		disconnects:  desc("disconnects_total", "Connections ended, by cause.", "cause"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.connected, c.recording, c.connectionID, c.samplingRate, c.pendingFlags,
		c.measured, c.sent, c.buffered, c.dropped, c.resendDepth,
		c.submitted, c.refused, c.resent, c.failures, c.ignored, c.disconnects,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s, err := c.stats()
	if err != nil {
		c.logger.WithError(err).Debug("Skipping metrics collection")
		return
	}

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.connected, boolValue(s.Connected))
	gauge(c.recording, boolValue(s.Recording))
	gauge(c.connectionID, float64(s.ConnectionID))
	gauge(c.samplingRate, float64(s.SamplingRate))
	gauge(c.pendingFlags, float64(s.PendingFlags))
	gauge(c.measured, float64(s.Measured))
	gauge(c.sent, float64(s.Sent))
	gauge(c.buffered, float64(s.Buffered))
	gauge(c.dropped, float64(s.Dropped))
	gauge(c.resendDepth, float64(s.ResendDepth))

	counter(c.submitted, s.Submitted)
	counter(c.refused, s.Refused)
	counter(c.resent, s.Resent)
	counter(c.failures, s.Failures)
	counter(c.ignored, s.Ignored)
	for _, cause := range session.DisconnectCauses() {
		ch <- prometheus.MustNewConstMetric(c.disconnects, prometheus.CounterValue,
			float64(s.DisconnectsBy(cause)), cause.String())
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
