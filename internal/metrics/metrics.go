// Package metrics exposes the counters and gauges the transport core
// updates at fixed points: packet processed, handler error, replay drop,
// login outcome, connect/disconnect, online entity add/remove.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/l1jgo/gamegate/internal/net/packet"
)

// Sink receives core events. Implementations must be safe for concurrent use.
type Sink interface {
	MessageProcessed(msgType uint16)
	MessageError(msgType uint16)
	ReplayDropped(msgType uint16)
	Login(success bool)
	ConnectionOpened()
	ConnectionClosed()
	OnlineChanged(delta int)
	BroadcastFailed()
}

// Nop discards everything.
type Nop struct{}

func (Nop) MessageProcessed(uint16) {}
func (Nop) MessageError(uint16)     {}
func (Nop) ReplayDropped(uint16)    {}
func (Nop) Login(bool)              {}
func (Nop) ConnectionOpened()       {}
func (Nop) ConnectionClosed()       {}
func (Nop) OnlineChanged(int)       {}
func (Nop) BroadcastFailed()        {}

// Prometheus is the Sink backed by client_golang collectors.
type Prometheus struct {
	messages       *prometheus.CounterVec
	messageErrors  *prometheus.CounterVec
	replayDrops    *prometheus.CounterVec
	logins         *prometheus.CounterVec
	connections    *prometheus.CounterVec
	active         prometheus.Gauge
	online         prometheus.Gauge
	broadcastFails prometheus.Counter

	registry *prometheus.Registry
}

// NewPrometheus creates the collectors and registers them on a private
// registry, so tests and multiple servers in one process do not collide.
func NewPrometheus(namespace string) (*Prometheus, error) {
	p := &Prometheus{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_total", Help: "Messages processed.",
		}, []string{"msg_id"}),
		messageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_errors_total", Help: "Handler failures.",
		}, []string{"msg_id"}),
		replayDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "replay_dropped_total", Help: "Packets dropped by the sequence check.",
		}, []string{"msg_id"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "login_total", Help: "Login attempts by result.",
		}, []string{"result"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_total", Help: "Connection events.",
		}, []string{"type"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_connections", Help: "Open connections.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online_players", Help: "Entities in the online registry.",
		}),
		broadcastFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_send_failures_total", Help: "Per-connection broadcast send failures.",
		}),
		registry: prometheus.NewRegistry(),
	}

	for _, c := range []prometheus.Collector{
		p.messages, p.messageErrors, p.replayDrops, p.logins, p.connections,
		p.active, p.online, p.broadcastFails,
		collectors.NewGoCollector(),
	} {
		if err := p.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return p, nil
}

// msgLabel keeps label cardinality bounded: types from the client that the
// server does not know share one series.
func msgLabel(t uint16) string {
	if !packet.Known(t) {
		return "unknown"
	}
	return fmt.Sprintf("%04X", t)
}

func (p *Prometheus) MessageProcessed(t uint16) { p.messages.WithLabelValues(msgLabel(t)).Inc() }
func (p *Prometheus) MessageError(t uint16)     { p.messageErrors.WithLabelValues(msgLabel(t)).Inc() }
func (p *Prometheus) ReplayDropped(t uint16)    { p.replayDrops.WithLabelValues(msgLabel(t)).Inc() }

func (p *Prometheus) Login(success bool) {
	result := "failed"
	if success {
		result = "success"
	}
	p.logins.WithLabelValues(result).Inc()
}

func (p *Prometheus) ConnectionOpened() {
	p.active.Inc()
	p.connections.WithLabelValues("connect").Inc()
}

func (p *Prometheus) ConnectionClosed() {
	p.active.Dec()
	p.connections.WithLabelValues("disconnect").Inc()
}

func (p *Prometheus) OnlineChanged(delta int) { p.online.Add(float64(delta)) }
func (p *Prometheus) BroadcastFailed()        { p.broadcastFails.Inc() }

// Handler serves /metrics and /health.
func (p *Prometheus) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Gatherer exposes the registry for tests.
func (p *Prometheus) Gatherer() prometheus.Gatherer { return p.registry }
