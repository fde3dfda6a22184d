// Package alert implements ports.AlertPort. Delivery channels
// (PagerDuty/Slack/email) are explicitly out of scope (spec.md §1); this
// package counts every alert, of any priority, in a Prometheus counter
// labelled by priority and kind, the way the rest
// of the pack instruments operational events with
// github.com/prometheus/client_golang, and logs every alert through
// zerolog for an operator tailing logs before a dashboard exists.
package alert

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psprecon/reconciler/internal/reconerr"
)

var alertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reconciler_alerts_total",
		Help: "Count of operational alerts raised, by priority and kind.",
	},
	[]string{"priority", "kind"},
)

func init() {
	prometheus.MustRegister(alertsTotal)
}

// Port is the default AlertPort: counts and logs. A real deployment
// injects a channel-specific implementation behind this interface; none
// is specified here (§1 non-goal).
type Port struct {
	log zerolog.Logger
}

func New() *Port {
	return &Port{log: log.With().Str("component", "alert").Logger()}
}

func (p *Port) Alert(ctx context.Context, priority reconerr.Priority, kind string, detail map[string]any) {
	alertsTotal.WithLabelValues(string(priority), kind).Inc()
	ev := p.log.Warn().Str("priority", string(priority)).Str("kind", kind)
	for k, v := range detail {
		ev = ev.Interface(k, v)
	}
	ev.Msg("operational alert")
}
