// Package metrics instruments a transfer session with Prometheus counters
// and gauges, optionally exported over HTTP. A nil *Registry is valid and
// every method on it is a no-op, so wiring metrics is opt-in at the call
// site without conditionals scattered through the protocol core.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the collectors for one transfer session.
type Registry struct {
	reg *prometheus.Registry

	packetsSent      prometheus.Counter
	packetsReceived  prometheus.Counter
	retransmissions  prometheus.Counter
	skips            prometheus.Counter
	duplicates       prometheus.Counter
	outOfOrder       prometheus.Counter
	bytesTransferred prometheus.Counter
	windowOccupancy  prometheus.Gauge
}

// NewRegistry constructs a fresh set of collectors registered against a
// private prometheus.Registry (never the global default, so multiple
// sessions in one process, e.g. in tests, don't collide).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg:              reg,
		packetsSent:      factory.NewCounter(prometheus.CounterOpts{Name: "urft_packets_sent_total", Help: "Datagrams sent."}),
		packetsReceived:  factory.NewCounter(prometheus.CounterOpts{Name: "urft_packets_received_total", Help: "Datagrams received."}),
		retransmissions:  factory.NewCounter(prometheus.CounterOpts{Name: "urft_retransmissions_total", Help: "Data chunks retransmitted on timeout."}),
		skips:            factory.NewCounter(prometheus.CounterOpts{Name: "urft_skips_total", Help: "Sequences abandoned via SKIP_PACKET."}),
		duplicates:       factory.NewCounter(prometheus.CounterOpts{Name: "urft_duplicates_total", Help: "Duplicate data sequences observed by the receiver."}),
		outOfOrder:       factory.NewCounter(prometheus.CounterOpts{Name: "urft_out_of_order_total", Help: "Out-of-order data sequences buffered by the receiver."}),
		bytesTransferred: factory.NewCounter(prometheus.CounterOpts{Name: "urft_bytes_transferred_total", Help: "Payload bytes sent for the first time (sender) or delivered to disk (receiver)."}),
		windowOccupancy:  factory.NewGauge(prometheus.GaugeOpts{Name: "urft_window_size", Help: "Current number of outstanding sender window entries."}),
	}
}

func (r *Registry) IncPacketsSent() {
	if r != nil {
		r.packetsSent.Inc()
	}
}

func (r *Registry) IncPacketsReceived() {
	if r != nil {
		r.packetsReceived.Inc()
	}
}

func (r *Registry) IncRetransmissions() {
	if r != nil {
		r.retransmissions.Inc()
	}
}

func (r *Registry) IncSkips() {
	if r != nil {
		r.skips.Inc()
	}
}

func (r *Registry) IncDuplicates() {
	if r != nil {
		r.duplicates.Inc()
	}
}

func (r *Registry) IncOutOfOrder() {
	if r != nil {
		r.outOfOrder.Inc()
	}
}

func (r *Registry) AddBytesTransferred(n int) {
	if r != nil {
		r.bytesTransferred.Add(float64(n))
	}
}

func (r *Registry) SetWindowOccupancy(n int) {
	if r != nil {
		r.windowOccupancy.Set(float64(n))
	}
}

// Serve binds addr and starts serving /metrics in a background goroutine,
// reporting bind failures synchronously. The caller is responsible for
// calling Shutdown when the session ends; this is the one legitimate
// background goroutine in urft, independent of the single-threaded
// transfer loop.
func (r *Registry) Serve(addr string) (*http.Server, error) {
	if r == nil {
		return nil, fmt.Errorf("metrics: Serve called on a nil Registry")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: binding %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.Serve(listener)
	return srv, nil
}

// Shutdown gracefully stops a server started by Serve.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
