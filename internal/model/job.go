package model

import "time"

// JobState is the lifecycle of an ephemeral discovery job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobExhausted JobState = "exhausted"
)

// Terminal reports whether no further transitions will happen.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobExhausted:
		return true
	}
	return false
}

// JobKey identifies the (provider, service type) pair a discovery job covers.
type JobKey struct {
	ProviderID  string `json:"provider_id"`
	ServiceType string `json:"service_type"`
}

// String renders the key for maps and logs.
func (k JobKey) String() string {
	return k.ProviderID + ":" + k.ServiceType
}

// DiscoveryJob answers "is scraping in progress" for a pair. It is never
// persisted beyond the job store's TTL.
type DiscoveryJob struct {
	Key        JobKey     `json:"key"`
	State      JobState   `json:"state"`
	Attempt    int        `json:"attempt"`
	Outcome    string     `json:"outcome,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Active reports whether the job is pending or running.
func (j DiscoveryJob) Active() bool {
	return !j.State.Terminal()
}
