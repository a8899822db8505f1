package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/cosc121od/pycode/internal/common/cache"
	"github.com/cosc121od/pycode/internal/common/db"
	"github.com/cosc121od/pycode/internal/grading/model"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

const (
	defaultTestCaseTTL      = 30 * time.Minute
	defaultTestCaseEmptyTTL = 2 * time.Minute
	testCaseKeyPrefix       = "grading:testcases:"
)

// TestCaseRepository supplies the ordered test cases of a question.
type TestCaseRepository interface {
	ListByQuestion(ctx context.Context, tx db.Transaction, questionID int64) ([]model.TestCase, error)
	Replace(ctx context.Context, questionID int64, cases []model.TestCase) ([]model.TestCase, error)
}

// MySQLTestCaseRepository stores test cases in MySQL behind a read cache.
type MySQLTestCaseRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewTestCaseRepository creates a repository with default cache TTLs.
func NewTestCaseRepository(database db.Database, cacheClient cache.Cache) *MySQLTestCaseRepository {
	return NewTestCaseRepositoryWithTTL(database, cacheClient, defaultTestCaseTTL, defaultTestCaseEmptyTTL)
}

// NewTestCaseRepositoryWithTTL creates a repository with custom cache TTLs.
func NewTestCaseRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLTestCaseRepository {
	if ttl <= 0 {
		ttl = defaultTestCaseTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultTestCaseEmptyTTL
	}
	return &MySQLTestCaseRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

const testCaseColumns = "id, input, stdin, expected_output, use_as_example, display, hide_rest_if_fail"

// ListByQuestion returns the cases of a question ordered by seq.
func (r *MySQLTestCaseRepository) ListByQuestion(ctx context.Context, tx db.Transaction, questionID int64) ([]model.TestCase, error) {
	if questionID <= 0 {
		return nil, appErr.ValidationError("question_id", "required")
	}
	if r.cache != nil && tx == nil {
		aside := cache.Aside[[]model.TestCase]{
			TTL:      r.ttl,
			EmptyTTL: r.emptyTTL,
			IsEmpty:  func(cases []model.TestCase) bool { return len(cases) == 0 },
			Encode:   marshalTestCases,
			Decode:   unmarshalTestCases,
		}
		return aside.Get(ctx, r.cache, testCaseKey(questionID), func(ctx context.Context) ([]model.TestCase, error) {
			return r.listFromDB(ctx, nil, questionID)
		})
	}
	return r.listFromDB(ctx, tx, questionID)
}

// Replace swaps the whole case list of a question in one transaction and
// returns the stored cases with their new ids.
func (r *MySQLTestCaseRepository) Replace(ctx context.Context, questionID int64, cases []model.TestCase) ([]model.TestCase, error) {
	if questionID <= 0 {
		return nil, appErr.ValidationError("question_id", "required")
	}
	if r.db == nil {
		return nil, appErr.New(appErr.DatabaseError).WithMessage("database is not initialized")
	}
	stored := make([]model.TestCase, len(cases))
	replace := func(ctx context.Context) error {
		return r.db.Transaction(ctx, func(tx db.Transaction) error {
			if _, err := tx.Exec(ctx, "DELETE FROM question_testcase WHERE question_id = ?", questionID); err != nil {
				return err
			}
			const insert = `
				INSERT INTO question_testcase
					(question_id, seq, input, stdin, expected_output, use_as_example, display, hide_rest_if_fail)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
			for i, tc := range cases {
				if tc.Display == "" {
					tc.Display = model.DisplayShow
				}
				res, err := tx.Exec(ctx, insert, questionID, i+1, tc.Input, tc.Stdin, tc.ExpectedOutput,
					tc.UseAsExample, string(tc.Display), tc.HideRestIfFail)
				if err != nil {
					return err
				}
				id, err := res.LastInsertId()
				if err != nil {
					return err
				}
				tc.ID = id
				stored[i] = tc
			}
			return nil
		})
	}

	var err error
	if r.cache != nil {
		err = cache.WriteThrough(ctx, r.cache, testCaseKey(questionID), replace)
	} else {
		err = replace(ctx)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TransactionFailed, "replace test cases failed")
	}
	return stored, nil
}

func (r *MySQLTestCaseRepository) listFromDB(ctx context.Context, tx db.Transaction, questionID int64) ([]model.TestCase, error) {
	query := "SELECT " + testCaseColumns + " FROM question_testcase WHERE question_id = ? ORDER BY seq ASC"
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, questionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query test cases failed")
	}
	defer rows.Close()

	cases := make([]model.TestCase, 0, 8)
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate test cases failed")
	}
	return cases, nil
}

func scanTestCase(scanner db.Scanner) (model.TestCase, error) {
	var (
		tc       model.TestCase
		expected sql.NullString
		display  string
	)
	if err := scanner.Scan(&tc.ID, &tc.Input, &tc.Stdin, &expected, &tc.UseAsExample, &display, &tc.HideRestIfFail); err != nil {
		return model.TestCase{}, appErr.Wrapf(err, appErr.DatabaseError, "scan test case failed")
	}
	if !expected.Valid {
		return model.TestCase{}, appErr.ConfigurationError(tc.ID, "expected_output", "is missing")
	}
	tc.ExpectedOutput = expected.String
	tc.Display = model.DisplayMode(display)
	return tc, nil
}

func testCaseKey(questionID int64) string {
	return testCaseKeyPrefix + strconv.FormatInt(questionID, 10)
}

func marshalTestCases(cases []model.TestCase) string {
	payload, err := json.Marshal(cases)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalTestCases(data string) ([]model.TestCase, error) {
	if data == "" {
		return nil, errors.New("empty test case payload")
	}
	var cases []model.TestCase
	if err := json.Unmarshal([]byte(data), &cases); err != nil {
		return nil, err
	}
	return cases, nil
}
