package metrics

import "time"

// MeasureDBQuery starts a timer for one storage call and returns the func
// that records it:
//
//	defer metrics.MeasureDBQuery(m, "session_get", "postgres")()
//
// A nil *Metrics yields a no-op.
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}
