package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kafhaconsumer"

// roles reported by the role gauge, one series each.
var roles = []string{"NOT_STARTED", "LEADER", "REPLICA", "BECOMING_LEADER"}

// Collector holds Prometheus metrics collectors
type Collector struct {
	role               *prometheus.GaugeVec
	roleTransitions    *prometheus.CounterVec
	recordsHandled     *prometheus.CounterVec
	watermarkOffset    prometheus.Gauge
	targetSwitches     *prometheus.CounterVec
	ready              prometheus.Gauge
	offsetCommits      *prometheus.CounterVec
	partitionsAssigned *prometheus.GaugeVec
	published          *prometheus.CounterVec
	publishFailed      *prometheus.CounterVec
	publishDuration    *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them with registry.
func NewCollector(registry prometheus.Registerer) *Collector {
	factory := promauto.With(registry)

	c := &Collector{
		role: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "role",
				Help:      "Current cluster role of this instance (1 for the active role)",
			},
			[]string{"role"},
		),
		roleTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_transitions_total",
				Help:      "Total number of role changes",
			},
			[]string{"from", "to"},
		),
		recordsHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_handled_total",
				Help:      "Total number of records handled by stream and outcome",
			},
			[]string{"topic", "outcome"},
		),
		watermarkOffset: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watermark_offset",
				Help:      "Offset of the current processing watermark",
			},
		),
		targetSwitches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "target_switches_total",
				Help:      "Total number of replica switches between the event and control streams",
			},
			[]string{"target"},
		),
		ready: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ready",
				Help:      "Whether the instance has signaled readiness",
			},
		),
		offsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offset_commits_total",
				Help:      "Total number of offset commits",
			},
			[]string{"topic", "partition"},
		),
		partitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "partitions_assigned",
				Help:      "Number of partitions assigned per stream",
			},
			[]string{"topic"},
		),
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_published_total",
				Help:      "Total number of messages published",
			},
			[]string{"topic", "kind"},
		),
		publishFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_publish_failed_total",
				Help:      "Total number of failed publishes",
			},
			[]string{"topic", "kind"},
		),
		publishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Duration of message publishing in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
	}

	c.SetRole("NOT_STARTED")
	return c
}

// SetRole marks role as the active role.
func (c *Collector) SetRole(role string) {
	for _, r := range roles {
		c.role.WithLabelValues(r).Set(0)
	}
	c.role.WithLabelValues(role).Set(1)
}

// IncRoleTransitions increments the role transitions counter
func (c *Collector) IncRoleTransitions(from, to string) {
	c.roleTransitions.WithLabelValues(from, to).Inc()
}

// IncRecordsHandled increments the records handled counter
func (c *Collector) IncRecordsHandled(topic, outcome string) {
	c.recordsHandled.WithLabelValues(topic, outcome).Inc()
}

// SetWatermarkOffset records the watermark offset
func (c *Collector) SetWatermarkOffset(offset int64) {
	c.watermarkOffset.Set(float64(offset))
}

// IncTargetSwitches increments the target switches counter
func (c *Collector) IncTargetSwitches(target string) {
	c.targetSwitches.WithLabelValues(target).Inc()
}

// SetReady records readiness
func (c *Collector) SetReady(ready bool) {
	if ready {
		c.ready.Set(1)
		return
	}
	c.ready.Set(0)
}

// IncCommits increments the offset commits counter
func (c *Collector) IncCommits(topic string, partition int32) {
	c.offsetCommits.WithLabelValues(topic, strconv.Itoa(int(partition))).Inc()
}

// SetPartitionsAssigned records the number of partitions assigned
func (c *Collector) SetPartitionsAssigned(topic string, n int) {
	c.partitionsAssigned.WithLabelValues(topic).Set(float64(n))
}

// IncPublished increments the published messages counter
func (c *Collector) IncPublished(topic, kind string) {
	c.published.WithLabelValues(topic, kind).Inc()
}

// IncPublishFailed increments the failed publishes counter
func (c *Collector) IncPublishFailed(topic, kind string) {
	c.publishFailed.WithLabelValues(topic, kind).Inc()
}

// ObservePublishDuration records the duration of a publish
func (c *Collector) ObservePublishDuration(topic string, seconds float64) {
	c.publishDuration.WithLabelValues(topic).Observe(seconds)
}
