package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	executePath = "/api/v2/execute"

	defaultCompileTimeout = 10 * time.Second
	maxErrorBody          = 4 << 10
)

// HTTPConfig configures a Piston-compatible execution service.
type HTTPConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	CompileTimeout time.Duration `yaml:"compileTimeout"`
	// RequestTimeout bounds a whole HTTP exchange when the caller has no deadline.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// HTTPBackend speaks the Piston v2 execute API.
type HTTPBackend struct {
	baseURL        string
	compileTimeout time.Duration
	client         *http.Client
}

func NewHTTPBackend(cfg HTTPConfig, client *http.Client) (*HTTPBackend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base url is required")
	}
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	compileTimeout := cfg.CompileTimeout
	if compileTimeout <= 0 {
		compileTimeout = defaultCompileTimeout
	}
	return &HTTPBackend{baseURL: base, compileTimeout: compileTimeout, client: client}, nil
}

func (b *HTTPBackend) Identity() string {
	return "piston@" + b.baseURL
}

type pistonRequest struct {
	Language           string `json:"language"`
	Version            string `json:"version"`
	Files              []File `json:"files"`
	Stdin              string `json:"stdin"`
	CompileTimeout     int64  `json:"compile_timeout"`
	RunTimeout         int64  `json:"run_timeout"`
	CompileMemoryLimit int64  `json:"compile_memory_limit"`
	RunMemoryLimit     int64  `json:"run_memory_limit"`
}

type pistonStage struct {
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	Output   string  `json:"output"`
	Code     *int    `json:"code"`
	Signal   *string `json:"signal"`
	Status   *string `json:"status"`
	Message  *string `json:"message"`
	CPUTime  int64   `json:"cpu_time"`
	WallTime int64   `json:"wall_time"`
	Memory   int64   `json:"memory"`
}

type pistonResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      pistonStage  `json:"run"`
	Compile  *pistonStage `json:"compile"`
	Message  string       `json:"message"`
}

// Compile runs the compile stage with empty stdin. Piston always runs after compiling,
// so the run timeout is kept minimal and its outcome ignored.
func (b *HTTPBackend) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	resp, err := b.execute(ctx, pistonRequest{
		Language:           req.Runtime,
		Version:            req.Version,
		Files:              req.Files,
		CompileTimeout:     b.compileTimeout.Milliseconds(),
		RunTimeout:         1,
		CompileMemoryLimit: -1,
		RunMemoryLimit:     -1,
	})
	if err != nil {
		return CompileResult{}, err
	}
	if resp.Compile == nil {
		return CompileResult{OK: true}, nil
	}
	code := exitCode(resp.Compile)
	return CompileResult{
		OK:       code == 0 && resp.Compile.Signal == nil,
		ExitCode: code,
		Output:   stageOutput(resp.Compile),
		TimeMs:   resp.Compile.WallTime,
	}, nil
}

func (b *HTTPBackend) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	memLimit := int64(-1)
	if req.MemoryLimitKB > 0 {
		memLimit = req.MemoryLimitKB * 1024
	}
	resp, err := b.execute(ctx, pistonRequest{
		Language:           req.Runtime,
		Version:            req.Version,
		Files:              req.Files,
		Stdin:              req.Stdin,
		CompileTimeout:     b.compileTimeout.Milliseconds(),
		RunTimeout:         req.TimeLimitMs,
		CompileMemoryLimit: -1,
		RunMemoryLimit:     memLimit,
	})
	if err != nil {
		return ExecuteResult{}, err
	}

	run := resp.Run
	out := ExecuteResult{
		Stdout:   run.Stdout,
		Stderr:   run.Stderr,
		ExitCode: exitCode(&run),
		TimeMs:   run.CPUTime,
		MemoryKB: run.Memory / 1024,
	}
	if run.CPUTime == 0 {
		out.TimeMs = run.WallTime
	}
	if run.Signal != nil {
		out.Signal = *run.Signal
	}
	if run.Status != nil && *run.Status == "TO" {
		out.TimedOut = true
	}
	if resp.Compile != nil {
		out.CompileOutput = stageOutput(resp.Compile)
		if exitCode(resp.Compile) != 0 {
			// Sources that stopped compiling between calls behave like a crashing program.
			out.ExitCode = exitCode(resp.Compile)
			out.Stderr = out.CompileOutput
		}
	}
	return out, nil
}

func (b *HTTPBackend) execute(ctx context.Context, body pistonRequest) (*pistonResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode execute request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+executePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusInternalServerError || httpResp.StatusCode == http.StatusTooManyRequests {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, httpResp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if httpResp.StatusCode != http.StatusOK {
		var rejected pistonResponse
		_ = json.NewDecoder(io.LimitReader(httpResp.Body, maxErrorBody)).Decode(&rejected)
		return nil, fmt.Errorf("backend rejected request: status %d: %s", httpResp.StatusCode, rejected.Message)
	}

	var resp pistonResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return &resp, nil
}

func exitCode(stage *pistonStage) int {
	if stage.Code != nil {
		return *stage.Code
	}
	if stage.Signal != nil {
		return -1
	}
	return 0
}

func stageOutput(stage *pistonStage) string {
	if stage.Output != "" {
		return stage.Output
	}
	return stage.Stdout + stage.Stderr
}
