// Package syncmetrics exports counters describing sync activity.
package syncmetrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

type Metrics struct {
	remoteWrites     *stats.Int64Measure
	remoteWritesView *view.View

	queuedOps     *stats.Int64Measure
	queuedOpsView *view.View

	drainPasses     *stats.Int64Measure
	drainPassesView *view.View

	alertEmails     *stats.Int64Measure
	alertEmailsView *view.View
}

func New() *Metrics {
	m := &Metrics{}

	m.remoteWrites = stats.Int64("remote_writes", "", stats.UnitDimensionless)
	m.remoteWritesView = &view.View{
		Name:        "remote_writes",
		Description: "Counter of remote document writes, tagged by result",

		TagKeys: []tag.Key{tag.MustNewKey("result"), tag.MustNewKey("collection")},

		Measure:     m.remoteWrites,
		Aggregation: view.Count(),
	}

	m.queuedOps = stats.Int64("queued_ops", "", stats.UnitDimensionless)
	m.queuedOpsView = &view.View{
		Name:        "queued_ops",
		Description: "Counter of mutations deferred into the sync queue",

		TagKeys: []tag.Key{tag.MustNewKey("collection")},

		Measure:     m.queuedOps,
		Aggregation: view.Count(),
	}

	m.drainPasses = stats.Int64("drain_passes", "", stats.UnitDimensionless)
	m.drainPassesView = &view.View{
		Name:        "drain_passes",
		Description: "Counter of sync queue drain passes",

		Measure:     m.drainPasses,
		Aggregation: view.Count(),
	}

	m.alertEmails = stats.Int64("alert_emails", "", stats.UnitDimensionless)
	m.alertEmailsView = &view.View{
		Name:        "alert_emails",
		Description: "Counter of missed-dose alert emails sent",

		Measure:     m.alertEmails,
		Aggregation: view.Count(),
	}

	return m
}

func (m *Metrics) RegisterMetrics() {
	view.Register(m.remoteWritesView, m.queuedOpsView, m.drainPassesView, m.alertEmailsView)
}

func (m *Metrics) RecordRemoteWrite(ctx context.Context, collection, result string) {
	if m == nil {
		return
	}
	stats.RecordWithOptions(
		ctx,
		stats.WithTags(
			tag.Insert(tag.MustNewKey("result"), result),
			tag.Insert(tag.MustNewKey("collection"), collection),
		),
		stats.WithMeasurements(m.remoteWrites.M(1)))
}

func (m *Metrics) RecordQueued(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	stats.RecordWithOptions(
		ctx,
		stats.WithTags(tag.Insert(tag.MustNewKey("collection"), collection)),
		stats.WithMeasurements(m.queuedOps.M(1)))
}

func (m *Metrics) RecordDrainPass(ctx context.Context) {
	if m == nil {
		return
	}
	stats.Record(ctx, m.drainPasses.M(1))
}

func (m *Metrics) RecordAlertEmail(ctx context.Context) {
	if m == nil {
		return
	}
	stats.Record(ctx, m.alertEmails.M(1))
}
