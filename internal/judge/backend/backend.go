// Package backend is the client side of the sandboxed execution service.
package backend

import (
	"context"
	"errors"
)

// ErrUnavailable marks transport failures and 5xx answers. Callers may retry them.
var ErrUnavailable = errors.New("execution backend unavailable")

// File is one source file sent to the backend.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type CompileRequest struct {
	Runtime string
	Version string
	Files   []File
}

type CompileResult struct {
	OK       bool
	ExitCode int
	Output   string
	TimeMs   int64
}

type ExecuteRequest struct {
	Runtime       string
	Version       string
	Files         []File
	Stdin         string
	TimeLimitMs   int64
	MemoryLimitKB int64
}

type ExecuteResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Signal is the terminating signal name, empty when the process exited normally.
	Signal   string
	TimeMs   int64
	MemoryKB int64
	TimedOut bool
	// CompileOutput is set when the backend compiled the sources before running them.
	CompileOutput string
}

// Backend runs untrusted code. Implementations must respect ctx deadlines.
type Backend interface {
	Compile(ctx context.Context, req CompileRequest) (CompileResult, error)
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
	Identity() string
}
