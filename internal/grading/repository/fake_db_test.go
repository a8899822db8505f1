package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/cosc121od/pycode/internal/common/db"
)

// fakeDB understands the handful of statements the grading repositories issue.
type fakeDB struct {
	mu          sync.Mutex
	testcases   map[int64][]testCaseRow
	submissions []submissionRow
	nextID      int64
	queries     int
	failQuery   error
}

type testCaseRow struct {
	id             int64
	questionID     int64
	seq            int
	input          string
	stdin          string
	expected       sql.NullString
	useAsExample   bool
	display        string
	hideRestIfFail bool
}

type submissionRow struct {
	id        string
	question  int64
	language  string
	code      string
	hash      string
	bundle    []byte
	score     int
	state     string
	createdAt time.Time
}

func newFakeDB() *fakeDB {
	return &fakeDB{testcases: map[int64][]testCaseRow{}, nextID: 100}
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.failQuery != nil {
		return nil, f.failQuery
	}
	if !strings.Contains(query, "FROM question_testcase") {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	rows := &fakeRows{}
	for _, r := range f.testcases[args[0].(int64)] {
		rows.data = append(rows.data, []interface{}{r.id, r.input, r.stdin, r.expected, r.useAsExample, r.display, r.hideRestIfFail})
	}
	return rows, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.failQuery != nil {
		return &fakeRows{err: f.failQuery}
	}
	var match *submissionRow
	switch {
	case strings.Contains(query, "WHERE submission_id = ?"):
		for i := range f.submissions {
			if f.submissions[i].id == args[0].(string) {
				match = &f.submissions[i]
			}
		}
	case strings.Contains(query, "WHERE question_id = ? AND code_hash = ?"):
		for i := range f.submissions {
			s := &f.submissions[i]
			if s.question == args[0].(int64) && s.hash == args[1].(string) {
				if match == nil || !s.createdAt.Before(match.createdAt) {
					match = s
				}
			}
		}
	default:
		return &fakeRows{err: fmt.Errorf("unexpected query: %s", query)}
	}
	if match == nil {
		return &fakeRows{err: sql.ErrNoRows}
	}
	return &fakeRows{single: true, data: [][]interface{}{{
		match.id, match.question, match.language, match.code, match.hash, match.bundle, match.score, match.state, match.createdAt,
	}}}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.HasPrefix(query, "DELETE FROM question_testcase"):
		q := args[0].(int64)
		n := len(f.testcases[q])
		delete(f.testcases, q)
		return fakeResult{affected: int64(n)}, nil
	case strings.Contains(query, "INSERT INTO question_testcase"):
		f.nextID++
		var expected sql.NullString
		if s, ok := args[4].(string); ok {
			expected = sql.NullString{String: s, Valid: true}
		}
		row := testCaseRow{
			id:             f.nextID,
			questionID:     args[0].(int64),
			seq:            args[1].(int),
			input:          args[2].(string),
			stdin:          args[3].(string),
			expected:       expected,
			useAsExample:   args[5].(bool),
			display:        args[6].(string),
			hideRestIfFail: args[7].(bool),
		}
		f.testcases[row.questionID] = append(f.testcases[row.questionID], row)
		return fakeResult{lastID: row.id, affected: 1}, nil
	case strings.HasPrefix(query, "INSERT INTO grading_submission"):
		id := args[0].(string)
		for _, s := range f.submissions {
			if s.id == id {
				return nil, &mysql.MySQLError{Number: 1062, Message: fmt.Sprintf("Duplicate entry '%s' for key 'PRIMARY'", id)}
			}
		}
		f.submissions = append(f.submissions, submissionRow{
			id:        id,
			question:  args[1].(int64),
			language:  args[2].(string),
			code:      args[3].(string),
			hash:      args[4].(string),
			bundle:    args[5].([]byte),
			score:     args[6].(int),
			state:     args[7].(string),
			createdAt: time.Now().Add(time.Duration(len(f.submissions)) * time.Millisecond),
		})
		return fakeResult{affected: 1}, nil
	}
	return nil, fmt.Errorf("unexpected exec: %s", query)
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	f.mu.Lock()
	snapshot := make(map[int64][]testCaseRow, len(f.testcases))
	for k, v := range f.testcases {
		snapshot[k] = append([]testCaseRow(nil), v...)
	}
	f.mu.Unlock()

	if err := fn(&fakeTx{db: f}); err != nil {
		f.mu.Lock()
		f.testcases = snapshot
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

func (f *fakeDB) seedCase(questionID int64, row testCaseRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	row.id = f.nextID
	row.questionID = questionID
	row.seq = len(f.testcases[questionID]) + 1
	f.testcases[questionID] = append(f.testcases[questionID], row)
}

func (f *fakeDB) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

type fakeTx struct {
	db *fakeDB
}

func (t *fakeTx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return t.db.Query(ctx, query, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return t.db.QueryRow(ctx, query, args...)
}

func (t *fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return t.db.Exec(ctx, query, args...)
}

type fakeResult struct {
	lastID   int64
	affected int64
}

func (r fakeResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

type fakeRows struct {
	data   [][]interface{}
	pos    int
	single bool
	err    error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	idx := r.pos - 1
	if r.single {
		idx = 0
	}
	if idx < 0 || idx >= len(r.data) {
		return sql.ErrNoRows
	}
	row := r.data[idx]
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d columns into %d destinations", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Err() error   { return nil }

func assign(dest, src interface{}) error {
	switch d := dest.(type) {
	case *int64:
		*d = src.(int64)
	case *int:
		*d = src.(int)
	case *string:
		*d = src.(string)
	case *bool:
		*d = src.(bool)
	case *[]byte:
		*d = append([]byte(nil), src.([]byte)...)
	case *time.Time:
		*d = src.(time.Time)
	case *sql.NullString:
		*d = src.(sql.NullString)
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
	return nil
}
