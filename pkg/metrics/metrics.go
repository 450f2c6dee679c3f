// Package metrics is a small Prometheus-compatible registry: counters,
// gauges and histograms with optional labels, rendered in the text
// exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// DurationBuckets suit a remote fetch or a page render, in seconds.
var DurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 25, 45}

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge can go up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.val.Store(n) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// Histogram counts observations into fixed upper-bound buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	count  uint64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

type family struct {
	kind    kind
	help    string
	buckets []float64
	series  map[string]any // label string -> *Counter | *Gauge | *Histogram
}

// Registry holds metric families in registration order.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

func (r *Registry) series(name, help string, k kind, buckets []float64, labels []string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{kind: k, help: help, buckets: buckets, series: make(map[string]any)}
		r.families[name] = f
		r.order = append(r.order, name)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	key := labelString(labels)
	if s, ok := f.series[key]; ok {
		return s
	}
	var s any
	switch k {
	case kindCounter:
		s = &Counter{}
	case kindGauge:
		s = &Gauge{}
	case kindHistogram:
		b := append([]float64(nil), f.buckets...)
		sort.Float64s(b)
		s = &Histogram{bounds: b, counts: make([]uint64, len(b))}
	}
	f.series[key] = s
	return s
}

// Counter returns (or creates) the counter for name and label pairs
// ("k1", "v1", "k2", "v2").
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	return r.series(name, help, kindCounter, nil, labels).(*Counter)
}

// Gauge returns (or creates) a gauge.
func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	return r.series(name, help, kindGauge, nil, labels).(*Gauge)
}

// Histogram returns (or creates) a histogram. Nil buckets use
// DurationBuckets. Buckets are fixed by the first call for a name.
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	return r.series(name, help, kindHistogram, buckets, labels).(*Histogram)
}

// labelString renders pairs as k1="v1",k2="v2". A dangling key is dropped.
func labelString(kv []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kv[i], kv[i+1])
	}
	return b.String()
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func join(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

// Render returns the registry in Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, name := range r.order {
		f := r.families[name]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.kind)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			switch s := f.series[k].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", name, braces(k), s.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %d\n", name, braces(k), s.Value())
			case *Histogram:
				s.mu.Lock()
				var cum uint64
				for i, bound := range s.bounds {
					cum += s.counts[i]
					fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, join(k, fmt.Sprintf("le=%q", fmt.Sprint(bound))), cum)
				}
				fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, join(k, `le="+Inf"`), s.count)
				fmt.Fprintf(&b, "%s_sum%s %g\n", name, braces(k), s.sum)
				fmt.Fprintf(&b, "%s_count%s %d\n", name, braces(k), s.count)
				s.mu.Unlock()
			}
		}
	}
	return b.String()
}

// Handler serves Render over HTTP.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
