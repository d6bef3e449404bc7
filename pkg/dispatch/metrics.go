package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "eventsink_messages_processed_total",
		Help: "Messages handled per dispatcher, labelled by classified outcome.",
	},
	[]string{"handler", "outcome"},
)
