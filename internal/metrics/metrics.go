// metrics.go
//
// Dynamic document type schema and table lifecycle engine
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of doctypesdb.
// doctypesdb is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// doctypesdb is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with doctypesdb.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "doctypesdb"

var (
	// LifecycleOperations counts lifecycle operations by operation and result.
	LifecycleOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_operations_total",
		Help:      "Document type lifecycle operations by operation and result.",
	}, []string{"operation", "result"})

	// LifecycleDuration observes lifecycle operation latency.
	LifecycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lifecycle_operation_duration_seconds",
		Help:      "Document type lifecycle operation duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// DDLStatements counts structural statements by kind.
	DDLStatements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ddl_statements_total",
		Help:      "DDL statements executed by kind.",
	}, []string{"kind"})

	// ReconcileActions counts reconciliation findings and repairs by kind.
	ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_actions_total",
		Help:      "Reconciliation actions by kind.",
	}, []string{"kind"})

	// LockContention counts lock acquisitions that found the lock held.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_contention_total",
		Help:      "Lifecycle lock acquisitions rejected because the lock was held.",
	})
)

// Observe records one lifecycle operation.
func Observe(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	LifecycleOperations.WithLabelValues(operation, result).Inc()
	LifecycleDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
