package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messenger",
		Name:      "messages_sent_total",
		Help:      "Messages persisted by the message pipeline.",
	})

	ConversationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messenger",
		Name:      "conversations_created_total",
		Help:      "Conversations created on first message between a pair.",
	})

	BroadcastFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messenger",
		Name:      "broadcast_failures_total",
		Help:      "Realtime publishes that failed or timed out.",
	}, []string{"event"})

	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messenger",
		Name:      "notification_failures_total",
		Help:      "Notification sink calls that failed or timed out.",
	})

	ReactionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "messenger",
		Name:      "reaction_conflicts_total",
		Help:      "Reaction toggles that lost an optimistic write and re-read the ledger.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		ConversationsCreated,
		BroadcastFailures,
		NotificationFailures,
		ReactionConflicts,
	)
}
