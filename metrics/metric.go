package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "OpenFileTable",
		Name:      "commits_total",
		Help:      "completed open file table commits",
	})
	CommitBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "OpenFileTable",
		Name:      "commit_bytes_total",
		Help:      "bytes of omap keys and values written by commits",
	})
	LoadedAnchors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "OpenFileTable",
		Name:      "loaded_anchors",
		Help:      "anchors decoded by the boot-time load",
	})
	PrefetchOpensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "OpenFileTable",
		Name:      "prefetch_opens_total",
		Help:      "open-by-ino requests issued by prefetch",
	})
)

func init() {
	Registry.MustRegister(
		CommitsTotal,
		CommitBytes,
		LoadedAnchors,
		PrefetchOpensTotal,
	)
}
