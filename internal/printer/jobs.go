package printer

import (
	"sync"
	"time"
)

// JobKind names what a job printed.
type JobKind string

const (
	JobReceipt  JobKind = "receipt"
	JobSelfTest JobKind = "selftest"
	JobCommands JobKind = "commands"
)

// JobStatus is the outcome of a finished job.
type JobStatus string

const (
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial" // some commands failed
	JobFailed    JobStatus = "failed"
)

// JobResult describes one print job.
type JobResult struct {
	ID         string    `json:"id"`
	Kind       JobKind   `json:"kind"`
	Status     JobStatus `json:"status"`
	Commands   int       `json:"commands"`
	Failed     int       `json:"failed"`
	Chunks     int       `json:"chunks"`
	Bytes      int       `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Err        error     `json:"-"`
}

// Duration is how long the job ran.
func (j *JobResult) Duration() time.Duration {
	return j.FinishedAt.Sub(j.StartedAt)
}

// DefaultJobHistory is how many results a JobLog keeps.
const DefaultJobHistory = 50

// JobLog keeps the most recent job results.
type JobLog struct {
	mu   sync.Mutex
	jobs []*JobResult
	max  int
}

// NewJobLog keeps up to max results; non-positive selects DefaultJobHistory.
func NewJobLog(max int) *JobLog {
	if max <= 0 {
		max = DefaultJobHistory
	}
	return &JobLog{max: max}
}

// Add records a finished job, evicting the oldest past capacity.
func (l *JobLog) Add(j *JobResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.jobs = append(l.jobs, j)
	if over := len(l.jobs) - l.max; over > 0 {
		l.jobs = append(l.jobs[:0:0], l.jobs[over:]...)
	}
}

// GetJob returns a copy of a job by ID
func (l *JobLog) GetJob(jobID string) *JobResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, job := range l.jobs {
		if job.ID == jobID {
			jobCopy := *job
			return &jobCopy
		}
	}
	return nil
}

// GetAllJobs returns copies of all jobs, newest first.
func (l *JobLog) GetAllJobs() []*JobResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	jobs := make([]*JobResult, len(l.jobs))
	for i, job := range l.jobs {
		jobCopy := *job
		jobs[len(l.jobs)-1-i] = &jobCopy
	}
	return jobs
}

// ClearCompleted removes completed jobs, keeping failures for inspection.
func (l *JobLog) ClearCompleted() {
	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := l.jobs[:0:0]
	for _, job := range l.jobs {
		if job.Status != JobCompleted {
			filtered = append(filtered, job)
		}
	}
	l.jobs = filtered
}
