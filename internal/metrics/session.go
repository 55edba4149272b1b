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
	// SessionsCreated tracks sessions as they are created, by which
	// side offered.
	SessionsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of peer sessions created",
		},
		[]string{"role"}, // offerer, answerer
	)

	// SessionsActive tracks sessions created and not yet closed.
	SessionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of sessions created and not yet closed",
		},
	)

	// SessionsClosed tracks sessions torn down, by reason.
	SessionsClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Total number of sessions closed",
		},
		[]string{"reason"}, // the free-text reason passed to Session.Close
	)

	// SessionNegotiationDuration tracks time from offer/answer start to Open.
	SessionNegotiationDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "negotiation_duration_seconds",
			Help:      "Time from offer or answer to the session reaching Open",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)

	// ChannelsOpened tracks data channels opened, by label.
	ChannelsOpened = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "opened_total",
			Help:      "Total number of data channels opened",
		},
		[]string{"label"},
	)

	// ChannelOpenTimeouts tracks sends that missed the channel-open deadline.
	ChannelOpenTimeouts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "open_timeouts_total",
			Help:      "Sends abandoned because their channel did not open in time",
		},
		[]string{"label"},
	)
)
