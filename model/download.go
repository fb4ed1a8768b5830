package model

import "time"

// JobState is the lifecycle state of a download job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// DownloadJob tracks one background fetch. Terminal jobs are reported to the
// requester and then discarded.
type DownloadJob struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"` // URL or search query
	Singer       string    `json:"singer"`
	State        JobState  `json:"state"`
	EnqueueAfter bool      `json:"enqueueAfter"`
	QueueToTop   bool      `json:"queueToTop"`
	ResultPath   string    `json:"resultPath,omitempty"`
	Error        string    `json:"error,omitempty"`
	RequestedAt  time.Time `json:"requestedAt"`
}
