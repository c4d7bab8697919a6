package model

import "time"

// Submission is the durable record of one code entry.
type Submission struct {
	ID               string
	UserID           int64
	ProblemID        int64
	ContestProblemID *int64
	Language         Language
	Content          string
	SourceKey        string
	Status           Status
	TestCaseCount    int
	SubmittedAt      time.Time
	ExecutionTimeMs  *int64
	MemoryKB         *int64
	FinalResult      *SubmissionResult
}

// View returns the result as last recorded on the submission row.
// Without a final result it is the bare status with no test detail yet.
func (s *Submission) View() SubmissionResult {
	if s.FinalResult != nil {
		return *s.FinalResult
	}
	if s.Status.IsTerminal() {
		return NewAbortedResult(s.ID, s.Status, s.TestCaseCount, "", s.SubmittedAt)
	}
	return SubmissionResult{
		SubmissionID: s.ID,
		Status:       s.Status,
		TotalCount:   s.TestCaseCount,
		UpdatedAt:    s.SubmittedAt,
	}
}

// TestCaseKind separates visible examples from hidden tests.
type TestCaseKind string

const (
	TestCaseExample TestCaseKind = "example"
	TestCaseHidden  TestCaseKind = "hidden"
)

// TestCase is one input/expected-output pair. Index is the position inside the job.
type TestCase struct {
	Index          int          `json:"index"`
	Input          string       `json:"input"`
	ExpectedOutput string       `json:"expected_output"`
	Kind           TestCaseKind `json:"kind"`
}

// ProblemTestSet is what the loader resolves for a problem.
type ProblemTestSet struct {
	ProblemID     int64
	TimeLimitMs   int64
	MemoryLimitKB int64
	Cases         []TestCase
}

// ContestRef optionally scopes a submission to a contest.
// ContestID takes precedence over ContestNameID.
type ContestRef struct {
	ContestID     *int64
	ContestNameID string
	OrgID         *int64
}

// Empty reports whether no contest was referenced.
func (r ContestRef) Empty() bool {
	return r.ContestID == nil && r.ContestNameID == ""
}
