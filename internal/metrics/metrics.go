package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Stores = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "notesync", Name: "stores_total", Help: "Replicated state writes by result."},
		[]string{"result"},
	)
	Snapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "notesync", Name: "snapshots_total", Help: "Version snapshots by type and result."},
		[]string{"type", "result"},
	)
	StoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "notesync", Name: "store_duration_seconds", Help: "Time spent writing replicated state.", Buckets: prometheus.DefBuckets},
	)
	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "notesync", Name: "live_sessions", Help: "Notes with an in-memory replicated document."},
	)
	Rooms = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "notesync", Name: "rooms", Help: "Note rooms with at least one member."},
	)
	RoomMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "notesync", Name: "room_members", Help: "Connections joined to a note room."},
	)
	BroadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "notesync", Name: "broadcast_failures_total", Help: "Per-recipient sends that failed."},
	)
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(Stores)
	reg.MustRegister(Snapshots)
	reg.MustRegister(StoreDuration)
	reg.MustRegister(LiveSessions)
	reg.MustRegister(Rooms)
	reg.MustRegister(RoomMembers)
	reg.MustRegister(BroadcastFailures)
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
