// Package telemetry registers the Prometheus collectors for the chat service.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_sent_total",
			Help: "Messages accepted into the chat, by kind.",
		},
		[]string{"kind"},
	)

	messagesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_rejected_total",
			Help: "Messages refused before persistence, by reason.",
		},
		[]string{"reason"},
	)

	otpRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_otp_requests_total",
			Help: "Login codes requested.",
		},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_ws_connections",
			Help: "Open websocket connections.",
		},
	)

	onlineMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_online_members",
			Help: "Distinct members with at least one open connection.",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesSent)
	prometheus.MustRegister(messagesRejected)
	prometheus.MustRegister(otpRequests)
	prometheus.MustRegister(wsConnections)
	prometheus.MustRegister(onlineMembers)
}

// Handler serves the metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func MessageSent(kind string)       { messagesSent.WithLabelValues(kind).Inc() }
func MessageRejected(reason string) { messagesRejected.WithLabelValues(reason).Inc() }
func OTPRequested()                 { otpRequests.Inc() }
func WSOpened()                     { wsConnections.Inc() }
func WSClosed()                     { wsConnections.Dec() }
func SetOnlineMembers(n int)        { onlineMembers.Set(float64(n)) }
