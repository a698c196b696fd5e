// Package metrics exposes Prometheus collectors for the relay and the
// database listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contact_relay_notifications_received_total",
		Help: "Total number of notifications received from the database channel",
	})
	PayloadFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contact_relay_payload_fallbacks_total",
		Help: "Total number of payloads that were not JSON objects and were treated as plain text",
	})

	// Mail metrics, labelled by kind ("notification" or "alert").
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_relay_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"kind", "provider"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_relay_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"kind", "provider"})

	// Listener metrics
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_relay_reconnects_total",
		Help: "Total number of scheduled reconnects by failure kind",
	}, []string{"reason"})
	ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "contact_relay_connection_state",
		Help: "1 for the current connection state, 0 for the others",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(NotificationsReceived)
	prometheus.MustRegister(PayloadFallbacks)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(Reconnects)
	prometheus.MustRegister(ConnectionState)
}

// SetConnectionState marks state as the active connection state.
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
