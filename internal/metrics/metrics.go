// Package metrics exposes Prometheus counters for the ingestion pipeline and
// the background engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "luna_messages_admitted_total",
		Help: "Messages admitted by the filter pipeline.",
	})

	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luna_messages_rejected_total",
		Help: "Messages rejected by the filter pipeline, by reason.",
	}, []string{"reason"})

	LTMWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "luna_ltm_writes_total",
		Help: "Records written to the durable log.",
	})

	LTMSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luna_ltm_suppressed_total",
		Help: "Durable log writes suppressed at write time, by cause.",
	}, []string{"cause"})

	BoredomActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luna_boredom_actions_total",
		Help: "Autonomous boredom actions attempted, by kind.",
	}, []string{"kind"})

	GossipFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "luna_gossip_flushes_total",
		Help: "Gossip batches flushed to the sentiment extractor.",
	})

	ChaosLinks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "luna_chaos_links_total",
		Help: "Cross-topic links written by the dreamer.",
	})

	CollaboratorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luna_collaborator_retries_total",
		Help: "Retries against external collaborators, by service.",
	}, []string{"service"})
)
