package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedJob marks job data that can never be judged.
var ErrMalformedJob = errors.New("malformed execution job")

// Limits are the resource limits applied to every test case of a job.
type Limits struct {
	TimeLimitMs   int64 `json:"time_limit_ms"`
	MemoryLimitKB int64 `json:"memory_limit_kb"`
}

// ExecutionJob is the unit handed to the queue. It is not modified after it is built.
type ExecutionJob struct {
	SubmissionID string `json:"submission_id"`
	UserID       int64  `json:"user_id"`
	ProblemID    int64  `json:"problem_id"`

	// ContestProblemID is set when the submission was made inside a contest.
	ContestProblemID *int64 `json:"contest_problem_id,omitempty"`

	Language  Language   `json:"language"`
	Code      string     `json:"code"`
	TestCases []TestCase `json:"test_cases"`
	Limits    Limits     `json:"limits"`
	CreatedAt time.Time  `json:"created_at"`
}

// Validate checks the job can be judged at all.
func (j ExecutionJob) Validate() error {
	switch {
	case j.SubmissionID == "":
		return fmt.Errorf("%w: missing submission id", ErrMalformedJob)
	case j.Code == "":
		return fmt.Errorf("%w: empty code", ErrMalformedJob)
	case len(j.TestCases) == 0:
		return fmt.Errorf("%w: no test cases", ErrMalformedJob)
	case j.Limits.TimeLimitMs <= 0 || j.Limits.MemoryLimitKB <= 0:
		return fmt.Errorf("%w: invalid limits", ErrMalformedJob)
	}
	for i, tc := range j.TestCases {
		if tc.Index != i {
			return fmt.Errorf("%w: test case %d has index %d", ErrMalformedJob, i, tc.Index)
		}
	}
	return nil
}
