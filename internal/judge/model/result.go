package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInconsistentResult is returned by SubmissionResult.Validate.
var ErrInconsistentResult = errors.New("inconsistent submission result")

// TestCaseResult is the outcome of one test case.
// Stdout and ExpectedOutput are nil when redacted for a hidden case.
type TestCaseResult struct {
	TestCaseIndex   int     `json:"test_case_index"`
	Status          Status  `json:"status"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	MemoryKB        int64   `json:"memory_kb"`
	Stdout          *string `json:"stdout"`
	ExpectedOutput  *string `json:"expected_output"`
	IsHidden        bool    `json:"is_hidden"`
	Message         string  `json:"message,omitempty"`
}

// Redacted hides output of hidden cases from the submitter.
func (r TestCaseResult) Redacted() TestCaseResult {
	if r.IsHidden {
		r.Stdout = nil
		r.ExpectedOutput = nil
	}
	return r
}

// SubmissionResult is the aggregate view of a judged (or judging) submission.
type SubmissionResult struct {
	SubmissionID  string           `json:"submission_id"`
	Status        Status           `json:"status"`
	TotalTimeMs   int64            `json:"total_time_ms"`
	TotalMemoryKB int64            `json:"total_memory_kb"`
	PassedCount   int              `json:"passed_count"`
	TotalCount    int              `json:"total_count"`
	TestCases     []TestCaseResult `json:"test_cases"`
	CompileOutput string           `json:"compile_output,omitempty"`
	Error         string           `json:"error,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Validate enforces the count invariants between the aggregate and its test list.
func (r SubmissionResult) Validate() error {
	if r.SubmissionID == "" {
		return fmt.Errorf("%w: missing submission id", ErrInconsistentResult)
	}
	if !r.Status.IsSubmissionStatus() {
		return fmt.Errorf("%w: unknown status %q", ErrInconsistentResult, r.Status)
	}
	if r.TotalCount < 0 || len(r.TestCases) > r.TotalCount {
		return fmt.Errorf("%w: %d test results for total %d", ErrInconsistentResult, len(r.TestCases), r.TotalCount)
	}
	passed := 0
	for i, tc := range r.TestCases {
		if tc.TestCaseIndex != i {
			return fmt.Errorf("%w: result %d has index %d", ErrInconsistentResult, i, tc.TestCaseIndex)
		}
		if tc.Status == StatusAccepted {
			passed++
		}
	}
	if passed != r.PassedCount || r.PassedCount > r.TotalCount {
		return fmt.Errorf("%w: passed %d, counted %d", ErrInconsistentResult, r.PassedCount, passed)
	}
	switch {
	case r.Status == StatusCompilationError:
		if len(r.TestCases) != 0 {
			return fmt.Errorf("%w: compilation error with test results", ErrInconsistentResult)
		}
	case r.Status.IsTerminal():
		if len(r.TestCases) != r.TotalCount {
			return fmt.Errorf("%w: final result has %d of %d test results", ErrInconsistentResult, len(r.TestCases), r.TotalCount)
		}
	}
	return nil
}

// Redacted returns a copy safe to show to the submitter.
func (r SubmissionResult) Redacted() SubmissionResult {
	if r.TestCases == nil {
		return r
	}
	cases := make([]TestCaseResult, len(r.TestCases))
	for i, tc := range r.TestCases {
		cases[i] = tc.Redacted()
	}
	r.TestCases = cases
	return r
}

// NewAbortedResult builds a final result for a submission that ended before its
// remaining tests could run. Every test is recorded as skipped.
func NewAbortedResult(submissionID string, status Status, total int, errMsg string, at time.Time) SubmissionResult {
	r := SubmissionResult{
		SubmissionID: submissionID,
		Status:       status,
		TotalCount:   total,
		Error:        errMsg,
		UpdatedAt:    at,
	}
	if status != StatusCompilationError {
		r.TestCases = SkippedFrom(nil, 0, total)
	}
	return r
}

// SkippedFrom appends skipped entries for indexes from..total-1.
func SkippedFrom(tests []TestCaseResult, from, total int) []TestCaseResult {
	if tests == nil {
		tests = make([]TestCaseResult, 0, total)
	}
	for i := from; i < total; i++ {
		tests = append(tests, TestCaseResult{TestCaseIndex: i, Status: StatusSkipped})
	}
	return tests
}

// Terminal reports whether the result carries a final verdict.
func (r SubmissionResult) Terminal() bool {
	return r.Status.IsTerminal()
}
