package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSubmissionExists   = errors.New("submission already exists")
)

// SubmissionRepository persists submissions in the relational store.
type SubmissionRepository struct {
	db  db.Database
	now func() time.Time
}

func NewSubmissionRepository(database db.Database) *SubmissionRepository {
	return &SubmissionRepository{db: database, now: time.Now}
}

const submissionColumns = "id, user_id, problem_id, contest_problem_id, language, content, source_key, status, test_case_count, submitted_at, execution_time_ms, memory_kb, result_json"

// Create inserts a new submission row.
func (r *SubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return errors.New("submission id is required")
	}
	if sub.UserID <= 0 || sub.ProblemID <= 0 {
		return errors.New("user and problem are required")
	}
	query := `
		INSERT INTO submissions
		(id, user_id, problem_id, contest_problem_id, language, content, source_key, status, test_case_count, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(ctx, query,
		sub.ID,
		sub.UserID,
		sub.ProblemID,
		sub.ContestProblemID,
		string(sub.Language),
		sub.Content,
		sub.SourceKey,
		string(sub.Status),
		sub.TestCaseCount,
		sub.SubmittedAt.UTC(),
		sub.SubmittedAt.UTC(),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrSubmissionExists
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Get loads a submission with its final result, if any.
func (r *SubmissionRepository) Get(ctx context.Context, id string) (*model.Submission, error) {
	row := r.db.QueryRow(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	var (
		sub              model.Submission
		contestProblemID sql.NullInt64
		language, status string
		execTime, memory sql.NullInt64
		resultJSON       sql.NullString
	)
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProblemID,
		&contestProblemID,
		&language,
		&sub.Content,
		&sub.SourceKey,
		&status,
		&sub.TestCaseCount,
		&sub.SubmittedAt,
		&execTime,
		&memory,
		&resultJSON,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	sub.Language = model.Language(language)
	sub.Status = model.Status(status)
	if contestProblemID.Valid {
		sub.ContestProblemID = &contestProblemID.Int64
	}
	if execTime.Valid {
		sub.ExecutionTimeMs = &execTime.Int64
	}
	if memory.Valid {
		sub.MemoryKB = &memory.Int64
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result model.SubmissionResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", id, err)
		}
		sub.FinalResult = &result
	}
	return &sub, nil
}

// UpdateStatus moves a submission forward. It reports false when the row was
// already at or past status, so replays never move a submission backwards.
func (r *SubmissionRepository) UpdateStatus(ctx context.Context, id string, status model.Status) (bool, error) {
	from := model.Predecessors(status)
	if len(from) == 0 {
		return false, fmt.Errorf("no transition leads to %s", status)
	}
	args := []interface{}{string(status), r.now().UTC(), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	query := "UPDATE submissions SET status = ?, updated_at = ? WHERE id = ? AND status IN (" + placeholders(len(from)) + ")"
	res, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update status of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update status of %s: %w", id, err)
	}
	return n > 0, nil
}

// SaveFinal records the terminal result. It reports false when the submission was already final.
func (r *SubmissionRepository) SaveFinal(ctx context.Context, result model.SubmissionResult) (bool, error) {
	if !result.Status.IsTerminal() {
		return false, fmt.Errorf("status %s is not final", result.Status)
	}
	if err := result.Validate(); err != nil {
		return false, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}
	from := model.Predecessors(result.Status)
	args := []interface{}{
		string(result.Status),
		result.TotalTimeMs,
		result.TotalMemoryKB,
		string(payload),
		r.now().UTC(),
		result.SubmissionID,
	}
	for _, s := range from {
		args = append(args, string(s))
	}
	query := `UPDATE submissions SET status = ?, execution_time_ms = ?, memory_kb = ?, result_json = ?, updated_at = ?
		WHERE id = ? AND status IN (` + placeholders(len(from)) + ")"
	res, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("save result of %s: %w", result.SubmissionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save result of %s: %w", result.SubmissionID, err)
	}
	return n > 0, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
