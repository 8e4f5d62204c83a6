package metrics

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
)

const labelSep = "\xff"

// counterVec is a counter family keyed by label values.
type counterVec struct {
	name   string
	help   string
	labels []string

	mu     sync.Mutex
	values map[string]uint64
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	return &counterVec{name: name, help: help, labels: labels, values: make(map[string]uint64)}
}

func (c *counterVec) inc(values ...string) {
	key := strings.Join(values, labelSep)
	c.mu.Lock()
	c.values[key]++
	c.mu.Unlock()
}

func (c *counterVec) writeTo(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name)
	for _, key := range sortedKeys(c.values) {
		fmt.Fprintf(w, "%s{%s} %d\n", c.name, labelPairs(c.labels, key), c.values[key])
	}
}

// histogramVec is a cumulative histogram family keyed by label values.
type histogramVec struct {
	name    string
	help    string
	labels  []string
	buckets []float64

	mu     sync.Mutex
	series map[string]*histogram
}

type histogram struct {
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogramVec(name, help string, buckets []float64, labels ...string) *histogramVec {
	return &histogramVec{name: name, help: help, labels: labels, buckets: buckets, series: make(map[string]*histogram)}
}

func (h *histogramVec) observe(value float64, values ...string) {
	key := strings.Join(values, labelSep)
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.series[key]
	if s == nil {
		s = &histogram{counts: make([]uint64, len(h.buckets))}
		h.series[key] = s
	}
	s.count++
	s.sum += value
	// Values above the last bound only show up in the +Inf bucket via count.
	for i, bound := range h.buckets {
		if value <= bound {
			s.counts[i]++
		}
	}
}

func (h *histogramVec) writeTo(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	for _, key := range sortedKeys(h.series) {
		s := h.series[key]
		labels := labelPairs(h.labels, key)
		for i, bound := range h.buckets {
			fmt.Fprintf(w, "%s_bucket{%s,le=\"%s\"} %d\n", h.name, labels, formatFloat(bound), s.counts[i])
		}
		fmt.Fprintf(w, "%s_bucket{%s,le=\"+Inf\"} %d\n", h.name, labels, s.count)
		fmt.Fprintf(w, "%s_sum{%s} %s\n", h.name, labels, formatFloat(s.sum))
		fmt.Fprintf(w, "%s_count{%s} %d\n", h.name, labels, s.count)
	}
}

func labelPairs(names []string, key string) string {
	values := strings.Split(key, labelSep)
	pairs := make([]string, len(names))
	for i, name := range names {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		pairs[i] = fmt.Sprintf("%s=\"%s\"", name, escape(v))
	}
	return strings.Join(pairs, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
