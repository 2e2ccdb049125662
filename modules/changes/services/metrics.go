package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lockConflictCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "firelater_change_lock_conflicts_total",
	Help: "Number of per-change row lock conflicts observed by lifecycle operations.",
})
