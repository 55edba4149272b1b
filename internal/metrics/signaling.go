// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopesPublished tracks envelopes this instance sent to the bus.
	EnvelopesPublished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "envelopes_published_total",
			Help:      "Envelopes published to the signaling bus by subtopic",
		},
		[]string{"subtopic"},
	)

	// EnvelopesReceived tracks envelopes accepted after self-filtering.
	EnvelopesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "envelopes_received_total",
			Help:      "Envelopes received from the signaling bus by subtopic",
		},
		[]string{"subtopic"},
	)

	// EnvelopesDropped tracks envelopes discarded, by reason.
	EnvelopesDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped before dispatch by reason",
		},
		[]string{"reason"}, // self_origin, malformed, encode_error
	)

	// HistoryLength tracks the current size of the bounded envelope ring.
	HistoryLength = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "history_length",
			Help:      "Current number of envelopes retained in the history ring",
		},
	)

	// BrokerReconnects tracks reconnect attempts to the signaling broker.
	BrokerReconnects = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "broker_reconnects_total",
			Help:      "Reconnect attempts made to the signaling broker",
		},
	)
)
