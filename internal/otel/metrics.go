package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the plugin's instruments. A nil *Metrics records nothing.
type Metrics struct {
	StoreWrites      metric.Int64Counter
	StoreWriteErrors metric.Int64Counter
	CorruptBackups   metric.Int64Counter
	OutboxAppends    metric.Int64Counter
	OutboxDelivered  metric.Int64Counter
	OutboxFailures   metric.Int64Counter
	SyncDuration     metric.Float64Histogram
	SyncFailures     metric.Int64Counter
	RollupUpdates    metric.Int64Counter
	RemoteDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.StoreWrites, "orgx.store.writes", "Atomic store file writes"},
		{&m.StoreWriteErrors, "orgx.store.write_errors", "Failed atomic store writes"},
		{&m.CorruptBackups, "orgx.store.corrupt_backups", "Unparseable files moved aside"},
		{&m.OutboxAppends, "orgx.outbox.appends", "Events appended to the outbox"},
		{&m.OutboxDelivered, "orgx.outbox.delivered", "Outbox events delivered on flush"},
		{&m.OutboxFailures, "orgx.outbox.failures", "Outbox events that failed delivery"},
		{&m.SyncFailures, "orgx.sync.failures", "Sync passes that could not reach the remote service"},
		{&m.RollupUpdates, "orgx.rollup.updates", "Rollup status pushes to the remote service"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.SyncDuration, err = meter.Float64Histogram("orgx.sync.duration",
		metric.WithDescription("Sync pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	m.RemoteDuration, err = meter.Float64Histogram("orgx.remote.duration",
		metric.WithDescription("Remote service request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// StoreWrite records one atomic write of file.
func (m *Metrics) StoreWrite(ctx context.Context, file string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("file", file))
	if err != nil {
		m.StoreWriteErrors.Add(ctx, 1, attrs)
		return
	}
	m.StoreWrites.Add(ctx, 1, attrs)
}

// CorruptBackup records a corrupt file being moved aside.
func (m *Metrics) CorruptBackup(ctx context.Context, file string) {
	if m == nil {
		return
	}
	m.CorruptBackups.Add(ctx, 1, metric.WithAttributes(attribute.String("file", file)))
}

// OutboxAppend records one appended event.
func (m *Metrics) OutboxAppend(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.OutboxAppends.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// OutboxFlush records the outcome of flushing one session.
func (m *Metrics) OutboxFlush(ctx context.Context, delivered, failed int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.OutboxDelivered.Add(ctx, int64(delivered))
	}
	if failed > 0 {
		m.OutboxFailures.Add(ctx, int64(failed))
	}
}

// SyncPass records one sync pass.
func (m *Metrics) SyncPass(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SyncDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.SyncFailures.Add(ctx, 1)
	}
}

// RollupPushed records rollup updates sent for entityType.
func (m *Metrics) RollupPushed(ctx context.Context, entityType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RollupUpdates.Add(ctx, int64(n), metric.WithAttributes(attribute.String("entity_type", entityType)))
}

// RemoteRequest records one call to the remote service.
func (m *Metrics) RemoteRequest(ctx context.Context, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RemoteDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
}
