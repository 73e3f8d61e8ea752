package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	pagesRendered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdftoolkit",
			Name:      "pages_rendered_total",
			Help:      "Total PDF pages rasterized",
		},
	)

	chunksRecognized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftoolkit",
			Name:      "chunks_recognized_total",
			Help:      "Chunks sent through recognition by result (success, error, cached)",
		},
		[]string{"result"},
	)

	remoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdftoolkit",
			Name:      "remote_request_duration_seconds",
			Help:      "Duration of remote recognition calls by operation",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"op", "result"},
	)

	filesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftoolkit",
			Name:      "files_processed_total",
			Help:      "Input files processed by kind and result",
		},
		[]string{"kind", "result"},
	)
)

// Init registers collectors on the toolkit registry. Safe to call twice.
func Init() {
	once.Do(func() {
		registry.MustRegister(pagesRendered, chunksRecognized, remoteLatency, filesProcessed)
	})
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}

func IncPagesRendered() { pagesRendered.Inc() }

func IncChunk(result string) { chunksRecognized.WithLabelValues(result).Inc() }

func ObserveRemote(op string, err error, dur time.Duration) {
	remoteLatency.WithLabelValues(op, resultLabel(err)).Observe(dur.Seconds())
}

func IncFile(kind string, err error) { filesProcessed.WithLabelValues(kind, resultLabel(err)).Inc() }

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
