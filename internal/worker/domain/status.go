package domain

import "strings"

// JobStatus is the status of a job as seen by the job source. Acknowledge
// returns one of these values.
type JobStatus string

// Job status constants
const (
	JobStatusCreated    JobStatus = "Created"
	JobStatusQueued     JobStatus = "Queued"
	JobStatusDispatched JobStatus = "Dispatched"
	JobStatusInProgress JobStatus = "InProgress"
	JobStatusTimedOut   JobStatus = "TimedOut"
	JobStatusSucceeded  JobStatus = "Succeeded"
	JobStatusFailed     JobStatus = "Failed"
)

var knownJobStatuses = []JobStatus{
	JobStatusCreated,
	JobStatusQueued,
	JobStatusDispatched,
	JobStatusInProgress,
	JobStatusTimedOut,
	JobStatusSucceeded,
	JobStatusFailed,
}

// ParseJobStatus maps s to a JobStatus, ignoring case. Unknown values are
// returned as-is and are never granted.
func ParseJobStatus(s string) JobStatus {
	for _, status := range knownJobStatuses {
		if strings.EqualFold(string(status), s) {
			return status
		}
	}
	return JobStatus(s)
}

// IsGranted reports whether the acknowledgement gave this worker ownership of the job.
func (s JobStatus) IsGranted() bool {
	return s == JobStatusInProgress
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}
