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
	// TrustDecisions tracks each admission decision by the peer's
	// classified category and the action the policy matrix produced.
	TrustDecisions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trust",
			Name:      "decisions_total",
			Help:      "Trust engine admission decisions by peer category and action",
		},
		[]string{"category", "action"},
	)

	// ChallengesIssued tracks signed-challenge handshakes, by outcome.
	ChallengesIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trust",
			Name:      "challenges_total",
			Help:      "Signed challenge/response handshakes by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	// KnownPeers tracks the size of the persisted identity store.
	KnownPeers = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trust",
			Name:      "known_peers",
			Help:      "Number of peer records held in the identity store",
		},
	)
)
