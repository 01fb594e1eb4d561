// Package observability aggregates runtime counters and process metrics for
// the debug endpoint and the periodic stats log. Counters are atomic so the
// hub loop can bump them without coordination.
package observability

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Stats is the point-in-time view served by the debug endpoint.
type Stats struct {
	ConnectionsOpen   int64   `json:"connections_open"`
	ConnectionsTotal  uint64  `json:"connections_total"`
	MessagesPersisted uint64  `json:"messages_persisted"`
	EventsBroadcast   uint64  `json:"events_broadcast"`
	PayloadsDropped   uint64  `json:"payloads_dropped"`
	AuthFailures      uint64  `json:"auth_failures"`
	CensorHits        uint64  `json:"censor_hits"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float32 `json:"memory_percent"`
	Goroutines        int     `json:"goroutines"`
}

type Monitor struct {
	log  *slog.Logger
	self *process.Process

	connectionsOpen   atomic.Int64
	connectionsTotal  atomic.Uint64
	messagesPersisted atomic.Uint64
	eventsBroadcast   atomic.Uint64
	payloadsDropped   atomic.Uint64
	authFailures      atomic.Uint64
	censorHits        atomic.Uint64

	metricInterval time.Duration
}

func NewMonitor(log *slog.Logger, metricInterval time.Duration) *Monitor {
	// The process handle can fail on exotic platforms; metrics then degrade
	// to counters only.
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process metrics unavailable", "error", err)
		self = nil
	}
	return &Monitor{log: log, self: self, metricInterval: metricInterval}
}

func (m *Monitor) ConnectionOpened() {
	m.connectionsOpen.Add(1)
	m.connectionsTotal.Add(1)
}

func (m *Monitor) ConnectionClosed()  { m.connectionsOpen.Add(-1) }
func (m *Monitor) MessagePersisted()  { m.messagesPersisted.Add(1) }
func (m *Monitor) EventBroadcast()    { m.eventsBroadcast.Add(1) }
func (m *Monitor) PayloadDropped()    { m.payloadsDropped.Add(1) }
func (m *Monitor) AuthFailure()       { m.authFailures.Add(1) }
func (m *Monitor) CensoredMessage()   { m.censorHits.Add(1) }

// Snapshot collects the counters plus self-process CPU and memory usage.
func (m *Monitor) Snapshot() Stats {
	stats := Stats{
		ConnectionsOpen:   m.connectionsOpen.Load(),
		ConnectionsTotal:  m.connectionsTotal.Load(),
		MessagesPersisted: m.messagesPersisted.Load(),
		EventsBroadcast:   m.eventsBroadcast.Load(),
		PayloadsDropped:   m.payloadsDropped.Load(),
		AuthFailures:      m.authFailures.Load(),
		CensorHits:        m.censorHits.Load(),
		Goroutines:        runtime.NumGoroutine(),
	}
	if m.self != nil {
		if cpu, err := m.self.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		}
		if mem, err := m.self.MemoryPercent(); err == nil {
			stats.MemoryPercent = mem
		}
	}
	return stats
}

// Run logs a stats line every metricInterval until the context is canceled.
// It satisfies contract.Worker so the supervisor keeps it alive.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("stopping monitor")
			return nil
		case <-ticker.C:
			s := m.Snapshot()
			m.log.Info("stats",
				"connections", s.ConnectionsOpen,
				"persisted", s.MessagesPersisted,
				"broadcast", s.EventsBroadcast,
				"dropped", s.PayloadsDropped,
				"cpu_pct", s.CPUPercent,
				"mem_pct", s.MemoryPercent,
			)
		}
	}
}
