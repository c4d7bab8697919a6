package service

import (
	"strings"
	"unicode/utf8"

	"judgeflow/internal/judge/backend"
	"judgeflow/internal/judge/model"
)

// CompareMode selects how program output is matched against the expected output.
type CompareMode string

const (
	CompareExact               CompareMode = "exact"
	CompareTrimTrailingNewline CompareMode = "trim_trailing_newline"
	CompareIgnoreWhitespace    CompareMode = "ignore_whitespace"
)

const maxMessageBytes = 1024

// OutputMatches reports whether actual is an accepted answer for expected.
func OutputMatches(mode CompareMode, actual, expected string) bool {
	switch mode {
	case CompareExact:
		return actual == expected
	case CompareIgnoreWhitespace:
		a, e := strings.Fields(actual), strings.Fields(expected)
		if len(a) != len(e) {
			return false
		}
		for i := range a {
			if a[i] != e[i] {
				return false
			}
		}
		return true
	default:
		return trimNewline(actual) == trimNewline(expected)
	}
}

// trimNewline drops one trailing "\n" or "\r\n". Blank lines before it still count.
func trimNewline(s string) string {
	if s, ok := strings.CutSuffix(s, "\n"); ok {
		return strings.TrimSuffix(s, "\r")
	}
	return s
}

// ClassifyRun assigns the per-test verdict for one backend run.
// Resource verdicts take precedence over crashes, and crashes over wrong output.
func ClassifyRun(res backend.ExecuteResult, limits model.Limits, expected string, mode CompareMode) (model.Status, string) {
	switch {
	case res.TimedOut || (limits.TimeLimitMs > 0 && res.TimeMs > limits.TimeLimitMs):
		return model.StatusTimeLimitExceeded, ""
	case limits.MemoryLimitKB > 0 && res.MemoryKB > limits.MemoryLimitKB:
		return model.StatusMemoryLimitExceeded, ""
	case res.ExitCode != 0 || res.Signal != "":
		msg := truncate(res.Stderr, maxMessageBytes)
		if res.Signal != "" && msg == "" {
			msg = "terminated by " + res.Signal
		}
		return model.StatusRuntimeError, msg
	case OutputMatches(mode, res.Stdout, expected):
		return model.StatusAccepted, ""
	default:
		return model.StatusWrongAnswer, ""
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
