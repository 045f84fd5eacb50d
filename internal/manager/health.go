package manager

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool health status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is a point-in-time snapshot of one pool. LatencyMS is set
// only when healthy; Error only when unhealthy.
type HealthStatus struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Total     int32   `json:"total_connections"`
	Idle      int32   `json:"idle_connections"`
	InUse     int32   `json:"in_use_connections"`
	Waiting   int32   `json:"waiting_requests"`
	Error     string  `json:"error,omitempty"`
}

// Health holds per-pool statuses. Read is nil when no replica is configured.
type Health struct {
	Primary HealthStatus  `json:"primary"`
	Read    *HealthStatus `json:"read,omitempty"`
}

// HealthCheck probes each configured pool with a bounded round trip and
// returns a per-pool status. It never returns an error: probe failures are
// captured in the status so a liveness endpoint or timer can call it without
// crash handling. Pools are probed concurrently.
func (m *Manager) HealthCheck(ctx context.Context) Health {
	var h Health
	g := new(errgroup.Group)
	g.Go(func() error {
		h.Primary = m.probePool(ctx, m.primary)
		return nil
	})
	if m.read != nil {
		g.Go(func() error {
			rs := m.probePool(ctx, m.read)
			h.Read = &rs
			return nil
		})
	}
	_ = g.Wait()
	return h
}

// probePool measures wall-clock latency from before connection checkout to
// after the round trip completes, so checkout wait is part of the reported
// latency: it reflects client-observed responsiveness, not just server time.
func (m *Manager) probePool(ctx context.Context, p connPool) HealthStatus {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	var one int
	err := p.QueryRow(pctx, "SELECT 1").Scan(&one)
	latency := time.Since(start)

	s := p.Stat()
	hs := HealthStatus{
		Total:   s.Total,
		Idle:    s.Idle,
		InUse:   s.InUse,
		Waiting: s.Waiting,
	}
	if err != nil {
		hs.Status = StatusUnhealthy
		hs.Error = err.Error()
		return hs
	}
	hs.Status = StatusHealthy
	hs.LatencyMS = float64(latency.Microseconds()) / 1000.0
	return hs
}

// healthLoop runs until its context is cancelled by Close. Health probes use
// the same checkout discipline as foreground queries, so a saturated pool
// can delay a tick; a failed tick is logged and never alters routing.
func (m *Manager) healthLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	m.logger.Info("health check loop started", "interval", m.healthInterval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health check loop stopped")
			return
		case <-ticker.C:
			h := m.HealthCheck(ctx)
			m.record(labelPrimary, h.Primary)
			if h.Read != nil {
				m.record(labelRead, *h.Read)
			}
		}
	}
}

// record publishes one pool's status to metrics and logs unhealthy probes.
func (m *Manager) record(poolLabel string, hs HealthStatus) {
	up := 0.0
	if hs.Status == StatusHealthy {
		up = 1
		m.metrics.DBHealthLatency.WithLabelValues(poolLabel).Set(hs.LatencyMS)
	} else {
		m.logger.Warn("pool unhealthy", "pool", poolLabel, "error", hs.Error)
	}
	m.metrics.DBPoolHealthy.WithLabelValues(poolLabel).Set(up)
	m.metrics.DBPoolConnections.WithLabelValues(poolLabel, "total").Set(float64(hs.Total))
	m.metrics.DBPoolConnections.WithLabelValues(poolLabel, "idle").Set(float64(hs.Idle))
	m.metrics.DBPoolConnections.WithLabelValues(poolLabel, "in_use").Set(float64(hs.InUse))
	m.metrics.DBPoolConnections.WithLabelValues(poolLabel, "waiting").Set(float64(hs.Waiting))
}
