package app

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats holds process-wide counters. They only grow until restart, except
// the active connection gauge.
type Stats struct {
	start time.Time

	totalConns  atomic.Uint64
	activeConns atomic.Int64

	mu            sync.Mutex
	totalMessages uint64
	byType        map[string]uint64

	connsDesc    *prometheus.Desc
	activeDesc   *prometheus.Desc
	messagesDesc *prometheus.Desc
	uptimeDesc   *prometheus.Desc
}

func NewStats() *Stats {
	return &Stats{
		start:  time.Now(),
		byType: make(map[string]uint64),
		connsDesc: prometheus.NewDesc("relay_connections_total",
			"Connections accepted since start.", nil, nil),
		activeDesc: prometheus.NewDesc("relay_connections_active",
			"Currently registered connections.", nil, nil),
		messagesDesc: prometheus.NewDesc("relay_messages_total",
			"Classified inbound messages by type.", []string{"type"}, nil),
		uptimeDesc: prometheus.NewDesc("relay_uptime_seconds",
			"Seconds since the relay started.", nil, nil),
	}
}

func (s *Stats) ConnectionOpened() {
	s.totalConns.Add(1)
	s.activeConns.Add(1)
}

func (s *Stats) ConnectionClosed() { s.activeConns.Add(-1) }

func (s *Stats) CountMessage(typ string) {
	s.mu.Lock()
	s.totalMessages++
	s.byType[typ]++
	s.mu.Unlock()
}

// CountType bumps only the per-type counter, for outcomes of a message that
// was already counted.
func (s *Stats) CountType(typ string) {
	s.mu.Lock()
	s.byType[typ]++
	s.mu.Unlock()
}

type StatsSnapshot struct {
	Uptime            time.Duration
	TotalConnections  uint64
	ActiveConnections int64
	TotalMessages     uint64
	ByType            map[string]uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	byType := make(map[string]uint64, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}
	total := s.totalMessages
	s.mu.Unlock()
	return StatsSnapshot{
		Uptime:            time.Since(s.start),
		TotalConnections:  s.totalConns.Load(),
		ActiveConnections: s.activeConns.Load(),
		TotalMessages:     total,
		ByType:            byType,
	}
}

func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.connsDesc
	ch <- s.activeDesc
	ch <- s.messagesDesc
	ch <- s.uptimeDesc
}

func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	snap := s.Snapshot()
	ch <- prometheus.MustNewConstMetric(s.connsDesc, prometheus.CounterValue, float64(snap.TotalConnections))
	ch <- prometheus.MustNewConstMetric(s.activeDesc, prometheus.GaugeValue, float64(snap.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(s.uptimeDesc, prometheus.GaugeValue, snap.Uptime.Seconds())

	types := make([]string, 0, len(snap.ByType))
	for t := range snap.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		ch <- prometheus.MustNewConstMetric(s.messagesDesc, prometheus.CounterValue, float64(snap.ByType[t]), t)
	}
}
