// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector. It outputs text/plain in Prometheus exposition format without
// pulling in the full prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const namePrefix = "shopbot_"

// Collector is the process-wide metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters and gauges by name.
type MetricsCollector struct {
	counters  sync.Map // name -> *atomic.Int64
	gauges    sync.Map // name -> *atomic.Int64
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

func (c *MetricsCollector) counter(name string) *atomic.Int64 {
	v, _ := c.counters.LoadOrStore(name, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the named counter by 1.
func (c *MetricsCollector) Inc(name string) { c.counter(name).Add(1) }

// Add increments the named counter by n.
func (c *MetricsCollector) Add(name string, n int64) { c.counter(name).Add(n) }

// Value returns the current counter value (0 when never touched).
func (c *MetricsCollector) Value(name string) int64 {
	if v, ok := c.counters.Load(name); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// SetGauge sets the named gauge.
func (c *MetricsCollector) SetGauge(name string, value int64) {
	v, _ := c.gauges.LoadOrStore(name, new(atomic.Int64))
	v.(*atomic.Int64).Store(value)
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration { return time.Since(c.startTime) }

// ServeHTTP writes all metrics in Prometheus exposition format.
func (c *MetricsCollector) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	write := func(m *sync.Map, kind string) {
		var names []string
		m.Range(func(k, _ any) bool {
			names = append(names, k.(string))
			return true
		})
		sort.Strings(names)
		for _, name := range names {
			v, _ := m.Load(name)
			fmt.Fprintf(w, "# TYPE %s%s %s\n", namePrefix, name, kind)
			fmt.Fprintf(w, "%s%s %d\n", namePrefix, name, v.(*atomic.Int64).Load())
		}
	}

	write(&c.counters, "counter")
	write(&c.gauges, "gauge")
	fmt.Fprintf(w, "# TYPE %suptime_seconds gauge\n%suptime_seconds %d\n",
		namePrefix, namePrefix, int64(c.Uptime().Seconds()))
}
