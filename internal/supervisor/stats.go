package supervisor

import "github.com/devserd/devserd/internal/event"

// Stats holds per-status bucket counts over the process table plus derived
// totals. Total always equals the sum of the six buckets.
type Stats struct {
	Total             int `json:"total"`
	Stopped           int `json:"stopped"`
	Starting          int `json:"starting"`
	Running           int `json:"running"`
	Stopping          int `json:"stopping"`
	Error             int `json:"error"`
	HealthCheckFailed int `json:"healthcheck_failed"`
	// ErrorLike counts records in Error or HealthCheckFailed.
	ErrorLike int `json:"error_like"`
}

// Stats walks the table once and buckets every record by status.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.table))
	for _, rec := range s.table {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	var st Stats
	for _, rec := range recs {
		st.Total++
		switch rec.status() {
		case event.StatusStopped:
			st.Stopped++
		case event.StatusStarting:
			st.Starting++
		case event.StatusRunning:
			st.Running++
		case event.StatusStopping:
			st.Stopping++
		case event.StatusError:
			st.Error++
		case event.StatusHealthCheckFailed:
			st.HealthCheckFailed++
		}
	}
	st.ErrorLike = st.Error + st.HealthCheckFailed
	return st
}
