// Package metrics exposes storefront counters to Prometheus.
//
// Recorder is a catalog.Publisher: counters move only for committed
// operations, exactly when their events are emitted.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/storefront/catalog"
)

const namespace = "storefront"

// Recorder counts catalog events.
type Recorder struct {
	registry *prometheus.Registry

	productsAdded  prometheus.Counter
	unitsAdded     prometheus.Counter
	bought         *prometheus.CounterVec
	refunded       *prometheus.CounterVec
	refundedValue  prometheus.Counter
	purchasedValue prometheus.Counter
}

// NewRecorder registers the storefront collectors, plus Go and process
// collectors, on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		productsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_added_total",
			Help:      "Total number of add-product calls that committed",
		}),
		unitsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_added_total",
			Help:      "Total number of stock units added",
		}),
		bought: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_bought_total",
			Help:      "Total number of purchases by product",
		}, []string{"product"}),
		refunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_refunded_total",
			Help:      "Total number of refunds by product",
		}, []string{"product"}),
		refundedValue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunded_value_total",
			Help:      "Total token amount paid back in refunds",
		}),
		purchasedValue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchased_value_total",
			Help:      "Total token amount debited by purchases",
		}),
	}
	r.registry.MustRegister(
		r.productsAdded, r.unitsAdded, r.bought, r.refunded, r.refundedValue, r.purchasedValue,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Publish updates counters for one committed event.
func (r *Recorder) Publish(_ context.Context, e catalog.Event) error {
	switch e.Type {
	case catalog.EventProductAdded:
		r.productsAdded.Inc()
		r.unitsAdded.Add(float64(e.Quantity))
	case catalog.EventProductBought:
		r.bought.WithLabelValues(e.Product).Inc()
		r.purchasedValue.Add(float64(e.Amount))
	case catalog.EventProductRefunded:
		r.refunded.WithLabelValues(e.Product).Inc()
		r.refundedValue.Add(float64(e.Amount))
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

var _ catalog.Publisher = (*Recorder)(nil)
