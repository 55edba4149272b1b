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
	// InstanceSlotAcquisitions tracks attempts by a local instance to
	// claim a slot in the shared registry, by outcome.
	InstanceSlotAcquisitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "instance",
			Name:      "slot_acquisitions_total",
			Help:      "Instance registry slot acquisition attempts by outcome",
		},
		[]string{"outcome"}, // acquired, retried, exhausted
	)

	// InstanceSlotEvictions tracks stale slots reclaimed from other
	// instances whose heartbeat expired.
	InstanceSlotEvictions = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "instance",
			Name:      "slot_evictions_total",
			Help:      "Stale instance slots evicted due to heartbeat timeout",
		},
	)

	// InstancesActive tracks the number of slots currently held, as seen
	// by this instance's last poll of the shared registry.
	InstancesActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "instance",
			Name:      "active",
			Help:      "Number of instance slots observed held on last poll",
		},
	)
)
