// Package netmon watches internet reachability and feeds the sync layer.
package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/israfil-hossain/mediremind/syncer"
)

// DefaultProbeURL serves an empty 204 response and is the conventional
// captive-portal check endpoint.
const DefaultProbeURL = "http://connectivitycheck.gstatic.com/generate_204"

// DefaultPeriod is the connectivity sampling interval.
const DefaultPeriod = 30 * time.Second

// Prober answers whether the internet is reachable right now.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber probes by fetching a no-content URL.  Any well-formed HTTP
// response counts as reachable; a captive portal that rewrites the response
// still proves we can reach something, and the document store's own error
// handling covers the rest.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		URL:    DefaultProbeURL,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Monitor samples connectivity on a fixed period and pushes the result into
// the sync coordinator.  When a sample sees the network come back after an
// offline stretch, it triggers one queue drain.
type Monitor struct {
	coordinator *syncer.Coordinator
	prober      Prober
	period      time.Duration

	wasOnline bool
}

type MonitorOpt func(*Monitor)

// WithProber substitutes the reachability probe (tests).
func WithProber(p Prober) MonitorOpt {
	return func(m *Monitor) { m.prober = p }
}

// WithPeriod overrides the sampling interval.
func WithPeriod(d time.Duration) MonitorOpt {
	return func(m *Monitor) { m.period = d }
}

func New(coordinator *syncer.Coordinator, opts ...MonitorOpt) *Monitor {
	m := &Monitor{
		coordinator: coordinator,
		prober:      NewHTTPProber(),
		period:      DefaultPeriod,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run samples connectivity until the context is canceled.  The first sample
// happens immediately rather than one period in.
func (m *Monitor) Run(ctx context.Context) {
	m.Sample(ctx)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one connectivity reading and reacts to it.
func (m *Monitor) Sample(ctx context.Context) {
	online := m.prober.Probe(ctx)
	m.coordinator.SetNetState(online, online)

	cameBack := online && !m.wasOnline
	m.wasOnline = online

	if !cameBack {
		return
	}

	slog.InfoContext(ctx, "Network restored, draining sync queue")
	report, err := m.coordinator.Drain(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Drain after reconnect failed", slog.Any("err", err))
		return
	}
	if report.Skipped {
		return
	}
	slog.InfoContext(ctx, "Drain after reconnect finished",
		slog.Int("processed", report.Processed),
		slog.Int("dropped", report.Dropped),
		slog.Int("remaining", report.Remaining))
}
