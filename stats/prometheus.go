package stats

import "github.com/prometheus/client_golang/prometheus"

// Source is anything that can report Metrics; *Stats and every Cache qualify.
type Source interface {
	Stats() Metrics
}

func (s *Stats) Stats() Metrics { return s.Snapshot() }

// Collector exports a Source as Prometheus metrics at scrape time. Register it
// with your own registry; nothing is registered globally.
type Collector struct {
	src Source

	requests, hits, misses, sets, removes, hitRate *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector labels every series with cache=name.
func NewCollector(namespace, name string, src Source) *Collector {
	labels := prometheus.Labels{"cache": name}
	d := func(metric, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", metric), help, variable, labels)
	}
	return &Collector{
		src:      src,
		requests: d("requests_total", "Total GetOrCreate/Get calls."),
		hits:     d("hits_total", "Lookups served from a tier.", "tier"),
		misses:   d("misses_total", "Lookups that found nothing in either tier."),
		sets:     d("sets_total", "Successful writes."),
		removes:  d("removes_total", "Remove and RemoveByPrefix calls."),
		hitRate:  d("hit_ratio", "hits/(hits+misses) since start or last reset."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.requests, c.hits, c.misses, c.sets, c.removes, c.hitRate} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Stats()
	counter := func(d *prometheus.Desc, v int64, lv ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), lv...)
	}
	counter(c.requests, m.TotalRequests)
	counter(c.hits, m.LocalHits, "local")
	counter(c.hits, m.RemoteHits, "remote")
	counter(c.misses, m.Misses)
	counter(c.sets, m.Sets)
	counter(c.removes, m.Removes)
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, m.HitRate)
}
