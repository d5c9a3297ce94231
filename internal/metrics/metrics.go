// Package metrics holds the relaypan Prometheus collectors. Passes are short
// lived, so the registry is pushed to a Pushgateway instead of scraped.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry collects every relaypan metric.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	AttemptsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaypan",
		Subsystem: "rotation",
		Name:      "attempts_total",
		Help:      "Credential attempts by outcome",
	}, []string{"outcome"})

	CooldownsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaypan",
		Subsystem: "rotation",
		Name:      "cooldowns_total",
		Help:      "Cooldowns applied after rate-limit responses",
	}, []string{"credential"})

	PassesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaypan",
		Subsystem: "rotation",
		Name:      "passes_total",
		Help:      "Completed rotation passes by result",
	}, []string{"result"})

	PublishedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "relaypan",
		Subsystem: "publish",
		Name:      "posts_total",
		Help:      "Posts published end to end",
	})

	PublishErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "relaypan",
		Subsystem: "publish",
		Name:      "errors_total",
		Help:      "Publish attempts that failed and were left for a later pass",
	})

	NotifyErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "relaypan",
		Subsystem: "publish",
		Name:      "notify_errors_total",
		Help:      "Automation triggers that failed",
	})

	// Post identifiers exceed float64 precision, so the last publish is
	// exported as a time rather than as the watermark itself.
	LastPublished = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaypan",
		Subsystem: "publish",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last post published end to end",
	})

	PassDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relaypan",
		Subsystem: "rotation",
		Name:      "pass_duration_seconds",
		Help:      "Wall time of one rotation pass",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

// Push sends the registry to a Pushgateway under job. An empty url is a no-op.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
