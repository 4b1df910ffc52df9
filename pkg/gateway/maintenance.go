package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/codeck/gateway/pkg/observability"
)

const auditFlushInterval = 30 * time.Second

type sweeper interface {
	Sweep() int
}

// Maintenance runs the periodic jobs that keep the gateway's tables bounded:
// rate-limit and lockout sweeps, the session gauge, and audit flushes.
type Maintenance struct {
	gateway *Gateway
	cron    *cron.Cron
	logger  logrus.FieldLogger
}

// NewMaintenance schedules the jobs. Call Start to run them.
func NewMaintenance(g *Gateway) (*Maintenance, error) {
	m := &Maintenance{
		gateway: g,
		cron:    cron.New(),
		logger:  g.logger.WithField("component", "maintenance"),
	}

	jobs := []struct {
		name     string
		interval time.Duration
		fn       func()
	}{
		{"sweep", g.config.SweepInterval, m.Sweep},
		{"audit flush", auditFlushInterval, m.flushAudit},
	}
	for _, job := range jobs {
		job := job
		spec := fmt.Sprintf("@every %s", job.interval)
		if _, err := m.cron.AddFunc(spec, func() {
			defer observability.RecoverPanic(m.logger, job.name)
			job.fn()
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}

	return m, nil
}

// Start runs the scheduler in the background.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.WithField("sweep_interval", m.gateway.config.SweepInterval.String()).Info("maintenance started")
}

// Stop halts the scheduler and waits for a running job, or until ctx is done.
func (m *Maintenance) Stop(ctx context.Context) error {
	select {
	case <-m.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep drops expired rate-limit windows and lockouts, then refreshes the
// session gauge. The Redis limiter expires its own keys and is skipped.
func (m *Maintenance) Sweep() {
	g := m.gateway
	fields := logrus.Fields{"lockouts": g.lockout.Sweep()}
	if s, ok := g.limiter.(sweeper); ok {
		fields["rate_limits"] = s.Sweep()
	}
	g.reportSessions(context.Background())
	m.logger.WithFields(fields).Debug("swept expired entries")
}

func (m *Maintenance) flushAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), auditFlushInterval)
	defer cancel()
	if err := m.gateway.audit.Flush(ctx); err != nil {
		m.logger.WithError(err).Warn("failed to flush audit log")
	}
}
