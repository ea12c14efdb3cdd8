package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConfirmedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betflow_confirmed_height",
		Help: "The last block number applied to the projection",
	})

	ChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betflow_chain_head",
		Help: "The latest block number reported by the node",
	})

	HeadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betflow_head_failures_total",
		Help: "Failed attempts to read the chain head",
	})

	ReorgCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betflow_reorg_count",
		Help: "Total number of chain reorganizations detected",
	})

	RevertedBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betflow_reverted_blocks_total",
		Help: "Block tuples removed from the projection by reorgs",
	})

	ProjectedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betflow_projected_events_total",
		Help: "Contract events applied to the projection",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "betflow_queue_depth",
		Help: "Items waiting in the relay queues",
	}, []string{"queue"})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betflow_submissions_total",
		Help: "Raw transactions submitted to the node",
	}, []string{"result"})

	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betflow_outcomes_total",
		Help: "Transaction outcomes recorded",
	}, []string{"result"})
)
