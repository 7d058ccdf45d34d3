package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Cleanup is the outcome of one cleanup command.
type Cleanup struct {
	Job      string
	Instance string
	// Rows maps an action (delete_run, compact, ...) to the rows it touched.
	Rows     map[string]int
	Finished time.Time
}

// PushCleanup sends c to the Pushgateway at url. Each push replaces the
// job/instance group, so the gauges always describe the latest run.
func PushCleanup(ctx context.Context, url string, c Cleanup) error {
	rows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cleaner_last_rows",
		Help:      "Rows affected by the latest cleanup run by action.",
	}, []string{"action"})
	for action, n := range c.Rows {
		rows.WithLabelValues(action).Set(float64(n))
	}

	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cleaner_last_success_timestamp_seconds",
		Help:      "Unix time the latest cleanup run finished.",
	})
	last.Set(float64(c.Finished.Unix()))

	err := push.New(url, c.Job).
		Grouping("instance", c.Instance).
		Collector(rows).
		Collector(last).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push %s metrics: %w", c.Job, err)
	}
	return nil
}
