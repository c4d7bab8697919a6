package repository

import (
	"context"
	"errors"
	"fmt"

	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"
)

var (
	ErrProblemNotFound        = errors.New("problem not found")
	ErrContestProblemNotFound = errors.New("problem is not part of the contest")
)

// TestCaseRepository reads problems, their test cases and contest membership.
type TestCaseRepository struct {
	db db.Database
}

func NewTestCaseRepository(database db.Database) *TestCaseRepository {
	return &TestCaseRepository{db: database}
}

// LoadProblem returns the problem limits and its test cases in stored order.
// Case indexes are renumbered 0..n-1 in that order.
func (r *TestCaseRepository) LoadProblem(ctx context.Context, problemID int64) (*model.ProblemTestSet, error) {
	set := &model.ProblemTestSet{ProblemID: problemID}
	row := r.db.QueryRow(ctx, "SELECT time_limit_ms, memory_limit_kb FROM problems WHERE id = ?", problemID)
	if err := row.Scan(&set.TimeLimitMs, &set.MemoryLimitKB); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, fmt.Errorf("load problem %d: %w", problemID, err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT input, expected_output, is_hidden FROM test_cases WHERE problem_id = ? ORDER BY idx ASC, id ASC",
		problemID)
	if err != nil {
		return nil, fmt.Errorf("load test cases of %d: %w", problemID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tc     model.TestCase
			hidden bool
		)
		if err := rows.Scan(&tc.Input, &tc.ExpectedOutput, &hidden); err != nil {
			return nil, fmt.Errorf("scan test case of %d: %w", problemID, err)
		}
		tc.Index = len(set.Cases)
		tc.Kind = model.TestCaseExample
		if hidden {
			tc.Kind = model.TestCaseHidden
		}
		set.Cases = append(set.Cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test cases of %d: %w", problemID, err)
	}
	return set, nil
}

// ResolveContestProblem returns the contest-problem id linking ref to problemID.
func (r *TestCaseRepository) ResolveContestProblem(ctx context.Context, ref model.ContestRef, problemID int64) (int64, error) {
	query := "SELECT cp.id FROM contest_problems cp JOIN contests c ON c.id = cp.contest_id WHERE cp.problem_id = ?"
	args := []interface{}{problemID}
	if ref.ContestID != nil {
		query += " AND c.id = ?"
		args = append(args, *ref.ContestID)
	} else {
		query += " AND c.name_id = ?"
		args = append(args, ref.ContestNameID)
	}
	if ref.OrgID != nil {
		query += " AND c.org_id = ?"
		args = append(args, *ref.OrgID)
	}

	var id int64
	if err := r.db.QueryRow(ctx, query+" LIMIT 1", args...).Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return 0, ErrContestProblemNotFound
		}
		return 0, fmt.Errorf("resolve contest problem: %w", err)
	}
	return id, nil
}
