// Package reshardmetrics exports the transfers executed by the reshard engine as Prometheus metrics.
package reshardmetrics

import (
	"github.com/gomlx/reshard/pkg/core/reshard"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "reshard"
	labelKind = "kind"
)

// Observer implements reshard.Observer counting transfers and bytes by kind ("local", "send" or "recv").
type Observer struct {
	transfers *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	elements  prometheus.Histogram
}

// interface guard
var _ reshard.Observer = (*Observer)(nil)

// New creates the metrics and registers them with the registerer. If registerer is nil, the metrics are
// created but not registered.
func New(registerer prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Number of resharding transfers executed, by kind.",
		}, []string{labelKind}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes moved by resharding transfers, by kind.",
		}, []string{labelKind}),
		elements: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_elements",
			Help:      "Number of elements moved per resharding transfer.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		}),
	}
	// Every kind is exported from the start, with a zero count.
	for _, kind := range reshard.TransferKindValues() {
		if kind != reshard.KindNone {
			o.transfers.WithLabelValues(kind.String())
			o.bytes.WithLabelValues(kind.String())
		}
	}
	if registerer == nil {
		return o, nil
	}
	for _, c := range []prometheus.Collector{o.transfers, o.bytes, o.elements} {
		if err := registerer.Register(c); err != nil {
			return nil, errors.Wrap(err, "reshardmetrics: registering metrics")
		}
	}
	return o, nil
}

// OnTransfer implements reshard.Observer.
// Kinds other than local, send and recv are ignored.
func (o *Observer) OnTransfer(kind reshard.TransferKind, t *reshard.Transfer, numBytes int) {
	if kind == reshard.KindNone || !kind.IsATransferKind() {
		return
	}
	label := kind.String()
	o.transfers.WithLabelValues(label).Inc()
	o.bytes.WithLabelValues(label).Add(float64(numBytes))
	o.elements.Observe(float64(t.NumElements))
}
