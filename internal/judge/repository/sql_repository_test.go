package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/repository"

	"github.com/go-sql-driver/mysql"
)

func TestSubmissionGetDecodesFinalResult(t *testing.T) {
	submitted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fdb := &fakeDB{rows: [][]interface{}{{
		"s1", int64(7), int64(100), int64(55), "python", "print(1)", "", "accepted", 1, submitted,
		int64(12), int64(2048),
		`{"submission_id":"s1","status":"accepted","passed_count":1,"total_count":1,"test_cases":[{"test_case_index":0,"status":"accepted"}]}`,
	}}}
	repo := repository.NewSubmissionRepository(fdb)

	sub, err := repo.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Status != model.StatusAccepted || sub.Language != model.LanguagePython || sub.TestCaseCount != 1 {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if sub.ContestProblemID == nil || *sub.ContestProblemID != 55 || sub.ExecutionTimeMs == nil || *sub.MemoryKB != 2048 {
		t.Fatalf("nullable columns not decoded: %+v", sub)
	}
	if sub.FinalResult == nil || sub.FinalResult.PassedCount != 1 {
		t.Fatalf("final result not decoded: %+v", sub.FinalResult)
	}
}

func TestSubmissionGetNotFound(t *testing.T) {
	repo := repository.NewSubmissionRepository(&fakeDB{})
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, repository.ErrSubmissionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateStatusGuardsPredecessors(t *testing.T) {
	fdb := &fakeDB{rowsAffected: 1}
	repo := repository.NewSubmissionRepository(fdb)

	ok, err := repo.UpdateStatus(context.Background(), "s1", model.StatusRunning)
	if err != nil || !ok {
		t.Fatalf("update = %v, %v", ok, err)
	}
	call := fdb.execs[0]
	if !strings.Contains(call.query, "status IN (?, ?)") {
		t.Fatalf("query = %s", call.query)
	}
	if call.args[2] != "s1" || call.args[3] != "pending" || call.args[4] != "queued" {
		t.Fatalf("args = %v", call.args)
	}

	fdb.rowsAffected = 0
	ok, err = repo.UpdateStatus(context.Background(), "s1", model.StatusRunning)
	if err != nil || ok {
		t.Fatalf("replayed update = %v, %v", ok, err)
	}

	if _, err := repo.UpdateStatus(context.Background(), "s1", model.StatusPending); err == nil {
		t.Fatalf("moving to pending must fail")
	}
}

func TestSaveFinalRejectsInconsistentResult(t *testing.T) {
	fdb := &fakeDB{rowsAffected: 1}
	repo := repository.NewSubmissionRepository(fdb)

	bad := model.SubmissionResult{SubmissionID: "s1", Status: model.StatusAccepted, TotalCount: 2}
	if _, err := repo.SaveFinal(context.Background(), bad); !errors.Is(err, model.ErrInconsistentResult) {
		t.Fatalf("err = %v", err)
	}
	if len(fdb.execs) != 0 {
		t.Fatalf("nothing should be written")
	}

	good := model.NewAbortedResult("s1", model.StatusRuntimeError, 2, "queue unavailable", time.Now())
	ok, err := repo.SaveFinal(context.Background(), good)
	if err != nil || !ok {
		t.Fatalf("save = %v, %v", ok, err)
	}
	if !strings.Contains(fdb.execs[0].query, "status IN (?, ?, ?)") {
		t.Fatalf("query = %s", fdb.execs[0].query)
	}
}

func TestLoadProblemKeepsStoredOrder(t *testing.T) {
	fdb := &fakeDB{
		rows: [][]interface{}{{int64(2000), int64(65536)}},
		multi: [][]interface{}{
			{"1 2", "3", false},
			{"5 5", "10", true},
		},
	}
	repo := repository.NewTestCaseRepository(fdb)
	set, err := repo.LoadProblem(context.Background(), 100)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if set.TimeLimitMs != 2000 || len(set.Cases) != 2 {
		t.Fatalf("unexpected set: %+v", set)
	}
	if set.Cases[1].Index != 1 || set.Cases[1].Kind != model.TestCaseHidden || set.Cases[0].ExpectedOutput != "3" {
		t.Fatalf("unexpected cases: %+v", set.Cases)
	}
	if !strings.Contains(fdb.queries[1].query, "ORDER BY idx ASC") {
		t.Fatalf("cases must be ordered by stored index: %s", fdb.queries[1].query)
	}
}

func TestLoadProblemNotFound(t *testing.T) {
	repo := repository.NewTestCaseRepository(&fakeDB{})
	if _, err := repo.LoadProblem(context.Background(), 1); !errors.Is(err, repository.ErrProblemNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveContestProblemByNameAndOrg(t *testing.T) {
	fdb := &fakeDB{rows: [][]interface{}{{int64(9)}}}
	repo := repository.NewTestCaseRepository(fdb)
	org := int64(3)

	id, err := repo.ResolveContestProblem(context.Background(), model.ContestRef{ContestNameID: "spring-cup", OrgID: &org}, 100)
	if err != nil || id != 9 {
		t.Fatalf("resolve = %d, %v", id, err)
	}
	q := fdb.queries[0]
	if !strings.Contains(q.query, "c.name_id = ?") || !strings.Contains(q.query, "c.org_id = ?") {
		t.Fatalf("query = %s", q.query)
	}
	if len(q.args) != 3 || q.args[1] != "spring-cup" || q.args[2] != int64(3) {
		t.Fatalf("args = %v", q.args)
	}

	if _, err := repo.ResolveContestProblem(context.Background(), model.ContestRef{ContestNameID: "x"}, 100); !errors.Is(err, repository.ErrContestProblemNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateMapsDuplicateKey(t *testing.T) {
	fdb := &fakeDB{execErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 's1'"}}
	repo := repository.NewSubmissionRepository(fdb)
	sub := &model.Submission{
		ID: "s1", UserID: 7, ProblemID: 100, Language: model.LanguagePython,
		Content: "print(1)", Status: model.StatusPending, TestCaseCount: 2, SubmittedAt: time.Now(),
	}
	if err := repo.Create(context.Background(), sub); !errors.Is(err, repository.ErrSubmissionExists) {
		t.Fatalf("err = %v", err)
	}

	fdb.execErr = nil
	if err := repo.Create(context.Background(), sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	last := fdb.execs[len(fdb.execs)-1]
	if last.args[0] != "s1" || last.args[7] != "pending" {
		t.Fatalf("args = %v", last.args)
	}
}
