// Package metrics records command-channel activity. The dispatcher and the
// group linker report through the Recorder interface; Prometheus backs it
// when a metrics address is configured and Noop otherwise.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives dispatcher and auto-link events.
type Recorder interface {
	CommandSent(action string)
	ReportReceived(outcome string)
	DispatchError(kind string)
	ExchangeObserved(action string, d time.Duration)
	LinkAttempted()
	LinkConfirmed()
}

// Noop discards every event.
type Noop struct{}

func (Noop) CommandSent(string) {}
func (Noop) ReportReceived(string) {}
func (Noop) DispatchError(string) {}
func (Noop) ExchangeObserved(string, time.Duration) {}
func (Noop) LinkAttempted() {}
func (Noop) LinkConfirmed() {}

// Prometheus implements Recorder on a private registry.
type Prometheus struct {
	reg       *prometheus.Registry
	commands  *prometheus.CounterVec
	reports   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	attempted prometheus.Counter
	confirmed prometheus.Counter
}

// NewPrometheus creates the brainstorm collectors and registers them.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		reg: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brainstorm",
			Name:      "commands_sent_total",
			Help:      "Commands sent to animi, by action.",
		}, []string{"action"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brainstorm",
			Name:      "reports_received_total",
			Help:      "Reports accepted from animi, by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brainstorm",
			Name:      "dispatch_errors_total",
			Help:      "Dispatcher failures, by kind.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brainstorm",
			Name:      "exchange_duration_seconds",
			Help:      "Time from sending a command to accepting its report.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"action"}),
		attempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainstorm",
			Name:      "links_attempted_total",
			Help:      "LinkOutput commands sent by auto-link.",
		}),
		confirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainstorm",
			Name:      "links_confirmed_total",
			Help:      "LinkOutput commands acknowledged with Success.",
		}),
	}
	p.reg.MustRegister(p.commands, p.reports, p.failures, p.latency, p.attempted, p.confirmed)
	return p
}

func (p *Prometheus) CommandSent(action string) { p.commands.WithLabelValues(action).Inc() }
func (p *Prometheus) ReportReceived(outcome string) { p.reports.WithLabelValues(outcome).Inc() }
func (p *Prometheus) DispatchError(kind string) { p.failures.WithLabelValues(kind).Inc() }
func (p *Prometheus) LinkAttempted() { p.attempted.Inc() }
func (p *Prometheus) LinkConfirmed() { p.confirmed.Inc() }

func (p *Prometheus) ExchangeObserved(action string, d time.Duration) {
	p.latency.WithLabelValues(action).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (p *Prometheus) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics on %s: %w", addr, err)
	}
	return nil
}
