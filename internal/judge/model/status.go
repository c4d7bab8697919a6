package model

// Status is both the submission lifecycle state and the per-test verdict.
type Status string

const (
	StatusPending             Status = "pending"
	StatusQueued              Status = "queued"
	StatusRunning             Status = "running"
	StatusAccepted            Status = "accepted"
	StatusWrongAnswer         Status = "wrong_answer"
	StatusTimeLimitExceeded   Status = "time_limit_exceeded"
	StatusMemoryLimitExceeded Status = "memory_limit_exceeded"
	StatusRuntimeError        Status = "runtime_error"
	StatusCompilationError    Status = "compilation_error"

	// StatusSkipped marks a test case that was not run after an earlier failure.
	// It never appears as a submission status.
	StatusSkipped Status = "skipped"
)

var terminalStatuses = []Status{
	StatusAccepted,
	StatusWrongAnswer,
	StatusTimeLimitExceeded,
	StatusMemoryLimitExceeded,
	StatusRuntimeError,
	StatusCompilationError,
}

// IsTerminal reports whether s is a final submission verdict.
func (s Status) IsTerminal() bool {
	for _, t := range terminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// IsSubmissionStatus reports whether s is valid on a submission row.
func (s Status) IsSubmissionStatus() bool {
	return s.rank() >= 0
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusQueued:
		return 1
	case StatusRunning:
		return 2
	}
	if s.IsTerminal() {
		return 3
	}
	return -1
}

// CanTransition reports whether a submission may move from s to next.
// Transitions only move forward and never leave a terminal state.
func (s Status) CanTransition(next Status) bool {
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 || s.IsTerminal() {
		return false
	}
	return to > from
}

// Predecessors lists the statuses a submission may be in right before moving to next.
func Predecessors(next Status) []Status {
	var out []Status
	for _, s := range []Status{StatusPending, StatusQueued, StatusRunning} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// ReduceStatus derives the overall verdict from per-test statuses in index order.
func ReduceStatus(compileFailed bool, tests []TestCaseResult) Status {
	if compileFailed {
		return StatusCompilationError
	}
	for _, tc := range tests {
		if tc.Status != StatusAccepted {
			return tc.Status
		}
	}
	return StatusAccepted
}
