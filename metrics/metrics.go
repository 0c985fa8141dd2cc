// Package metrics provides hooks for collecting sync engine metrics.
package metrics

import "time"

// Collector provides hooks for collecting sync operation metrics.
// Implementations can bridge to Prometheus, StatsD, or anything else; the
// engine ships with a no-op default.
type Collector interface {
	// RecordSyncDuration records how long one sync session took
	RecordSyncDuration(agencyID string, duration time.Duration)

	// RecordSyncOps records the operations processed in one session
	RecordSyncOps(agencyID string, processed int)

	// RecordConflicts records the number of conflicts detected
	RecordConflicts(agencyID string, detected int)

	// RecordResolutions records the outcome of one resolution pass
	RecordResolutions(strategy string, resolved, failed int)

	// RecordSyncErrors records sync errors by type
	RecordSyncErrors(agencyID string, errorType string)
}

// NoOpCollector is a default implementation that does nothing
type NoOpCollector struct{}

var _ Collector = (*NoOpCollector)(nil)

func (n *NoOpCollector) RecordSyncDuration(agencyID string, duration time.Duration) {}
func (n *NoOpCollector) RecordSyncOps(agencyID string, processed int)               {}
func (n *NoOpCollector) RecordConflicts(agencyID string, detected int)              {}
func (n *NoOpCollector) RecordResolutions(strategy string, resolved, failed int)    {}
func (n *NoOpCollector) RecordSyncErrors(agencyID string, errorType string)         {}
