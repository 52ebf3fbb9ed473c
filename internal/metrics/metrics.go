// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_connected_clients",
		Help: "Number of websocket clients currently attached to this instance.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_events_published_total",
		Help: "Realtime events published to the fan-out, by event name.",
	}, []string{"event"})

	MessagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messenger_messages_created_total",
		Help: "Messages successfully persisted.",
	})

	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messenger_messages_deleted_total",
		Help: "Messages deleted by their sender.",
	})

	ReactionsToggled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_reactions_toggled_total",
		Help: "Reaction toggles, by resulting action.",
	}, []string{"action"})

	GroupsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messenger_groups_deleted_total",
		Help: "Groups torn down by the background worker.",
	})
)
