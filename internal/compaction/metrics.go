package compaction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridstore",
		Subsystem: "compaction",
		Name:      "runs_total",
		Help:      "Compaction runs by outcome.",
	}, []string{"outcome"})

	patchesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridstore",
		Subsystem: "compaction",
		Name:      "patches_removed_total",
		Help:      "Cell-level patches folded into chunks and removed.",
	})

	chunksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridstore",
		Subsystem: "compaction",
		Name:      "chunks_written_total",
		Help:      "Chunks rewritten by compaction.",
	})

	conflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridstore",
		Subsystem: "compaction",
		Name:      "conflicts_total",
		Help:      "Compaction attempts restarted after a chunk version conflict.",
	})
)
