// Package metrics records simulation and API metrics.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skycoin/skydrone/pkg/control"
)

// Recorder records request and node event metrics.
type Recorder interface {
	Record(resTime time.Duration, hasErr bool)
	RecordEvent(ev control.Event)
}

type dummy struct{}

// NewDummy constructs a new dummy metrics recorder.
func NewDummy() Recorder {
	return &dummy{}
}

func (m *dummy) Record(resTime time.Duration, hasErr bool) {}

func (m *dummy) RecordEvent(ev control.Event) {}

// Prometheus is a Recorder exposing metrics through its own registry.
type Prometheus struct {
	reg      *prometheus.Registry
	reqCount prometheus.Counter
	errCount prometheus.Counter
	resTime  prometheus.Summary
	events   *prometheus.CounterVec
	packets  *prometheus.CounterVec
}

// NewPrometheus constructs a new Prometheus metrics recorder.
func NewPrometheus(service string) *Prometheus {
	m := &Prometheus{
		reg: prometheus.NewRegistry(),
		reqCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_request_total",
			Help: "The total number of processed requests",
		}),
		errCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_errors_total",
			Help: "The total number of 500 responses",
		}),
		resTime: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: service + "_response_time",
			Help: "Response times",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_events_total",
			Help: "The total number of node events",
		}, []string{"node", "type"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_total",
			Help: "The total number of packets involved in node events",
		}, []string{"event", "packet"}),
	}
	m.reg.MustRegister(m.reqCount, m.errCount, m.resTime, m.events, m.packets)
	return m
}

// Record implements Recorder.
func (m *Prometheus) Record(resTime time.Duration, hasErr bool) {
	m.reqCount.Inc()
	m.resTime.Observe(resTime.Seconds())
	if hasErr {
		m.errCount.Inc()
	}
}

// RecordEvent implements Recorder.
func (m *Prometheus) RecordEvent(ev control.Event) {
	m.events.WithLabelValues(ev.Node.String(), ev.Type.String()).Inc()
	if ev.Packet != nil {
		m.packets.WithLabelValues(ev.Type.String(), ev.Packet.Type().String()).Inc()
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.reg
}

// MetricsHandler serves the metrics in the Prometheus exposition format.
func (m *Prometheus) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Handler provides metrics middleware.
func Handler(m Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if m == nil {
			next.ServeHTTP(w, req)
			return
		}

		wrapW := &wrapResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		startTime := time.Now()
		next.ServeHTTP(wrapW, req)
		m.Record(time.Since(startTime), wrapW.statusCode == http.StatusInternalServerError)
	})
}

type wrapResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *wrapResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *wrapResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
