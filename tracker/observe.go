package tracker

import (
	"invite_tracker/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var joinOutcomeCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prometheus.BuildFQName(config.AppName, "join", "outcome"),
	},
	[]string{"outcome"},
)

var fetchFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: prometheus.BuildFQName(config.AppName, "invites", "fetch_failure"),
})

var trackedGuildGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: prometheus.BuildFQName(config.AppName, "guild", "tracked"),
})

var staleGuildGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: prometheus.BuildFQName(config.AppName, "guild", "stale"),
})

var unpersistedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: prometheus.BuildFQName(config.AppName, "attribution", "unpersisted"),
})

var untrackedUsesGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prometheus.BuildFQName(config.AppName, "reconcile", "untracked_uses"),
	},
	[]string{"guild_id"},
)
