package service_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cosc121od/pycode/internal/common/db"
	"github.com/cosc121od/pycode/internal/common/mq"
	"github.com/cosc121od/pycode/internal/common/storage"
	"github.com/cosc121od/pycode/internal/grading/backup"
	"github.com/cosc121od/pycode/internal/grading/model"
	"github.com/cosc121od/pycode/internal/grading/repository"
	"github.com/cosc121od/pycode/internal/grading/sandbox/result"
	"github.com/cosc121od/pycode/internal/grading/sandbox/runner"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

// fakeRunner answers by the last line of the program, which is the test input.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[string]result.Outcome
	calls    int
	entered  chan struct{}
	gate     chan struct{}
}

func (f *fakeRunner) Execute(ctx context.Context, req runner.ExecuteRequest) (result.Outcome, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return result.Outcome{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	lines := strings.Split(strings.TrimRight(req.Code, "\n"), "\n")
	if out, ok := f.outcomes[lines[len(lines)-1]]; ok {
		return out, nil
	}
	return result.Outcome{Status: result.StatusOK}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRunners map[string]runner.CodeRunner

func (f fakeRunners) Get(languageID string) (runner.CodeRunner, error) {
	r, ok := f[languageID]
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %s is not supported", languageID)
	}
	return r, nil
}

type fakeTestCases struct {
	mu     sync.Mutex
	cases  map[int64][]model.TestCase
	nextID int64
}

func newFakeTestCases() *fakeTestCases {
	return &fakeTestCases{cases: map[int64][]model.TestCase{}, nextID: 100}
}

func (f *fakeTestCases) ListByQuestion(ctx context.Context, tx db.Transaction, questionID int64) ([]model.TestCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.TestCase(nil), f.cases[questionID]...), nil
}

func (f *fakeTestCases) Replace(ctx context.Context, questionID int64, cases []model.TestCase) ([]model.TestCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]model.TestCase, len(cases))
	for i, tc := range cases {
		f.nextID++
		tc.ID = f.nextID
		stored[i] = tc
	}
	f.cases[questionID] = stored
	return append([]model.TestCase(nil), stored...), nil
}

type fakeSubmissions struct {
	mu   sync.Mutex
	rows map[string]*repository.Submission
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{rows: map[string]*repository.Submission{}}
}

func (f *fakeSubmissions) Save(ctx context.Context, tx db.Transaction, s *repository.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[s.SubmissionID]; ok {
		return nil
	}
	copied := *s
	copied.CreatedAt = time.Now()
	f.rows[s.SubmissionID] = &copied
	return nil
}

func (f *fakeSubmissions) Get(ctx context.Context, tx db.Transaction, id string) (*repository.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSubmissions) FindGraded(ctx context.Context, questionID int64, codeHash string) (*repository.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.QuestionID == questionID && s.CodeHash == codeHash {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.ErrSubmissionNotFound
}

func (f *fakeSubmissions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeBundles struct {
	mu      sync.Mutex
	data    map[string][]byte
	locks   map[string]string
	tokens  int
	unlocks int
	findErr error
	lockErr error
	dropped int
}

func newFakeBundles() *fakeBundles {
	return &fakeBundles{data: map[string][]byte{}, locks: map[string]string{}}
}

func bundleKey(questionID int64, codeHash string) string {
	return fmt.Sprintf("%d:%s", questionID, codeHash)
}

func (f *fakeBundles) Find(ctx context.Context, questionID int64, codeHash string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, false, f.findErr
	}
	data, ok := f.data[bundleKey(questionID, codeHash)]
	return data, ok, nil
}

func (f *fakeBundles) Store(ctx context.Context, questionID int64, codeHash string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[bundleKey(questionID, codeHash)] = data
	return nil
}

func (f *fakeBundles) Invalidate(ctx context.Context, questionID int64, codeHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, bundleKey(questionID, codeHash))
	f.dropped++
	return nil
}

func (f *fakeBundles) Lock(ctx context.Context, questionID int64, codeHash string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return "", f.lockErr
	}
	key := bundleKey(questionID, codeHash)
	if f.locks[key] != "" {
		return "", nil
	}
	f.tokens++
	token := fmt.Sprintf("token-%d", f.tokens)
	f.locks[key] = token
	return token, nil
}

func (f *fakeBundles) Unlock(ctx context.Context, questionID int64, codeHash, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks++
	key := bundleKey(questionID, codeHash)
	if f.locks[key] == token {
		delete(f.locks, key)
	}
	return nil
}

func (f *fakeBundles) held(questionID int64, codeHash string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks[bundleKey(questionID, codeHash)] != ""
}

func (f *fakeBundles) put(questionID int64, codeHash string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[bundleKey(questionID, codeHash)] = data
}

type fakePublisher struct {
	mu     sync.Mutex
	events []repository.ResultEvent
}

func (f *fakePublisher) PublishResult(ctx context.Context, event repository.ResultEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) snapshot() []repository.ResultEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.ResultEvent(nil), f.events...)
}

type fakeArchiver struct {
	questionID int64
	records    []backup.Record
	docs       map[string]backup.Document
	linkTTL    time.Duration
}

func (f *fakeArchiver) Save(ctx context.Context, questionID int64, records []backup.Record) (string, error) {
	f.questionID = questionID
	f.records = records
	key := fmt.Sprintf("testcase-backups/%d/archive-%d.json.zst", questionID, len(f.docs)+1)
	if f.docs == nil {
		f.docs = map[string]backup.Document{}
	}
	f.docs[key] = backup.Document{Version: 1, QuestionID: questionID, Records: records}
	return key, nil
}

func (f *fakeArchiver) Load(ctx context.Context, objectKey string) (backup.Document, error) {
	doc, ok := f.docs[objectKey]
	if !ok {
		return backup.Document{}, appErr.New(appErr.ObjectNotFound)
	}
	return doc, nil
}

func (f *fakeArchiver) List(ctx context.Context, questionID int64) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	for key, doc := range f.docs {
		if doc.QuestionID == questionID {
			objects = append(objects, storage.ObjectInfo{Key: key, SizeBytes: int64(len(doc.Records))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })
	return objects, nil
}

func (f *fakeArchiver) DownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	f.linkTTL = ttl
	return "https://storage.local/" + objectKey, nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published map[string][]*mq.Message
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string][]*mq.Message{}
	}
	f.published[topic] = append(f.published[topic], message)
	return nil
}
