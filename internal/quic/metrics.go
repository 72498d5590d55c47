// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level metrics, registered once at init to the default registry
// (grounded on shockwave's buffer_pool_prometheus.go promauto var block,
// rather than a per-Listener registration that would panic on a second
// Listener in the same process).
var (
	metricDatagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "datagrams_received_total",
		Help:      "UDP datagrams read off the listener socket.",
	})
	metricDatagramsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "datagrams_sent_total",
		Help:      "UDP datagrams written to the listener socket.",
	})
	metricConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "connections_accepted_total",
		Help:      "Connections instantiated from an unrecognized Initial DCID.",
	})
	metricPacketsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "packets_dropped_total",
		Help:      "Packets discarded during demux or the receive pipeline.",
	})
)

// metricsSet is a thin per-Listener handle onto the package-level
// counters, kept as a struct so Listener.handleDatagram and friends read
// the same way whether or not metrics end up per-instance later.
type metricsSet struct {
	datagramsReceived   prometheus.Counter
	datagramsSent       prometheus.Counter
	connectionsAccepted prometheus.Counter
	packetsDropped      prometheus.Counter
}

func newMetricsSet() *metricsSet {
	return &metricsSet{
		datagramsReceived:   metricDatagramsReceived,
		datagramsSent:       metricDatagramsSent,
		connectionsAccepted: metricConnectionsAccepted,
		packetsDropped:      metricPacketsDropped,
	}
}
