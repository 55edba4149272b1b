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

// Package metrics exposes Prometheus instrumentation for the client
// façade, rendezvous engine, trust engine, instance registry, and
// signaling bus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "mrtchat"

// Registry is the process-wide collector registry. A dedicated registry
// (rather than prometheus.DefaultRegisterer) keeps test runs isolated
// from each other.
var Registry = prometheus.NewRegistry()
