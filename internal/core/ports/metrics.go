package ports

import "time"

// Metrics receives coordinator-level measurements. Implemented by the
// prometheus collector; NopMetrics is used where monitoring is disabled.
type Metrics interface {
	RecordJoin(d time.Duration)
	RecordLeave()
	RecordReclaim()
	RecordTransactRetry(path string)
	ObserveDirectory(rooms, reservedSlots int)
}

type NopMetrics struct{}

func (NopMetrics) RecordJoin(time.Duration)    {}
func (NopMetrics) RecordLeave()                {}
func (NopMetrics) RecordReclaim()              {}
func (NopMetrics) RecordTransactRetry(string)  {}
func (NopMetrics) ObserveDirectory(int, int)   {}
