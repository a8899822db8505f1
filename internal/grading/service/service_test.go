package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cosc121od/pycode/internal/grading/backup"
	"github.com/cosc121od/pycode/internal/grading/bundle"
	"github.com/cosc121od/pycode/internal/grading/model"
	"github.com/cosc121od/pycode/internal/grading/repository"
	"github.com/cosc121od/pycode/internal/grading/sandbox/result"
	"github.com/cosc121od/pycode/internal/grading/service"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

const (
	questionID = int64(7)
	sqrCode    = "def sqr(n):\n    return n * n\n"
)

type fixture struct {
	runner      *fakeRunner
	cases       *fakeTestCases
	submissions *fakeSubmissions
	bundles     *fakeBundles
	publisher   *fakePublisher
	archiver    *fakeArchiver
	svc         *service.Service
}

func sqrCases() []model.TestCase {
	return []model.TestCase{
		{ID: 1, Input: "print(sqr(0))", ExpectedOutput: "0\n", UseAsExample: true, Display: model.DisplayShow},
		{ID: 2, Input: "print(sqr(1))", ExpectedOutput: "1\n", UseAsExample: true, Display: model.DisplayShow},
		{ID: 3, Input: "print(sqr(11))", ExpectedOutput: "121\n", Display: model.DisplayShow},
		{ID: 4, Input: "print(sqr(-7))", ExpectedOutput: "49\n", Display: model.DisplayShow},
		{ID: 5, Input: "print(sqr(-6))", ExpectedOutput: "36\n", Display: model.DisplayHideIfFail},
	}
}

func correctOutcomes() map[string]result.Outcome {
	return map[string]result.Outcome{
		"print(sqr(0))":  {Output: "0\n", Status: result.StatusOK},
		"print(sqr(1))":  {Output: "1\n", Status: result.StatusOK},
		"print(sqr(11))": {Output: "121\n", Status: result.StatusOK},
		"print(sqr(-7))": {Output: "49\n", Status: result.StatusOK},
		"print(sqr(-6))": {Output: "36\n", Status: result.StatusOK},
	}
}

func newFixture(t *testing.T, mutate func(cfg *service.Config)) *fixture {
	t.Helper()
	f := &fixture{
		runner:      &fakeRunner{outcomes: correctOutcomes()},
		cases:       newFakeTestCases(),
		submissions: newFakeSubmissions(),
		bundles:     newFakeBundles(),
		publisher:   &fakePublisher{},
		archiver:    &fakeArchiver{},
	}
	f.cases.cases[questionID] = sqrCases()
	cfg := service.Config{
		Runners:        fakeRunners{"python": f.runner},
		TestCases:      f.cases,
		Submissions:    f.submissions,
		Bundles:        f.bundles,
		Publisher:      f.publisher,
		Archiver:       f.archiver,
		Grading:        model.DefaultConfig(),
		WorkerPoolSize: 2,
		LockWait:       time.Second,
		LockPoll:       5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := service.NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func narrativeKeys(fb model.Feedback) []string {
	keys := make([]string, 0, len(fb.Narrative))
	for _, l := range fb.Narrative {
		keys = append(keys, l.Key)
	}
	return keys
}

func gradeRequest(id string) service.GradeRequest {
	return service.GradeRequest{SubmissionID: id, QuestionID: questionID, Language: "python", Code: sqrCode}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := service.NewService(service.Config{}); err == nil {
		t.Fatalf("expected error without runner provider")
	}
}

func TestGradeAllCorrect(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.Grade(context.Background(), gradeRequest("sub-1"))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if resp.Grade != (model.Grade{Score: 1, State: model.GradeCorrect}) {
		t.Fatalf("unexpected grade %+v", resp.Grade)
	}
	if resp.Reused {
		t.Fatalf("first grading must not be reused")
	}
	if diff := cmp.Diff([]string{model.NarrativeAllOK}, narrativeKeys(resp.Feedback)); diff != "" {
		t.Fatalf("narrative mismatch (-want +got):\n%s", diff)
	}
	if len(resp.Feedback.Rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(resp.Feedback.Rows))
	}

	stored, err := f.submissions.Get(context.Background(), nil, "sub-1")
	if err != nil {
		t.Fatalf("submission not stored: %v", err)
	}
	b, ok := bundle.Rehydrate(stored.Bundle)
	if !ok || len(b.Results) != 5 || stored.State != model.GradeCorrect {
		t.Fatalf("unexpected stored submission %+v", stored)
	}
	if _, found, _ := f.bundles.Find(context.Background(), questionID, stored.CodeHash); !found {
		t.Fatalf("bundle must be cached after grading")
	}
	events := f.publisher.snapshot()
	if len(events) != 1 || events[0].SubmissionID != "sub-1" || events[0].Score != 1 || events[0].Reused {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestGradeGeneratesSubmissionID(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.Grade(context.Background(), gradeRequest(""))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if resp.SubmissionID == "" {
		t.Fatalf("expected generated submission id")
	}
}

func TestGradeReusesEarlierBundle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first, err := f.svc.Grade(ctx, gradeRequest("sub-1"))
	if err != nil {
		t.Fatalf("first grade failed: %v", err)
	}
	second, err := f.svc.Grade(ctx, gradeRequest("sub-2"))
	if err != nil {
		t.Fatalf("second grade failed: %v", err)
	}
	if got := f.runner.callCount(); got != 5 {
		t.Fatalf("identical code must run once, runner called %d times", got)
	}
	if !second.Reused {
		t.Fatalf("second grading must reuse the bundle")
	}
	if diff := cmp.Diff(first.Feedback, second.Feedback); diff != "" {
		t.Fatalf("reused feedback differs (-first +second):\n%s", diff)
	}
	if f.submissions.count() != 2 {
		t.Fatalf("both submissions must be stored, got %d", f.submissions.count())
	}
}

func TestGradeAfterImportRunsAgainstNewCases(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.svc.Grade(ctx, gradeRequest("sub-1")); err != nil {
		t.Fatalf("first grade failed: %v", err)
	}

	records, err := f.svc.Export(ctx, questionID)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	four := "4\n"
	records[4].Input = "print(sqr(2))"
	records[4].ExpectedOutput = &four
	imported, err := f.svc.Import(ctx, questionID, records)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	resp, err := f.svc.Grade(ctx, gradeRequest("sub-2"))
	if err != nil {
		t.Fatalf("second grade failed: %v", err)
	}
	if resp.Reused || f.runner.callCount() != 10 {
		t.Fatalf("replaced cases must be run again, reused=%v calls=%d", resp.Reused, f.runner.callCount())
	}
	if resp.Grade != (model.Grade{Score: 0, State: model.GradeIncorrect}) {
		t.Fatalf("code failing a new case must be incorrect, got %+v", resp.Grade)
	}
	if resp.Feedback.Errors != 1 || len(resp.Feedback.Rows) != 4 || resp.Feedback.HiddenErrors != 1 {
		t.Fatalf("unexpected feedback rows=%d errors=%d hidden=%d",
			len(resp.Feedback.Rows), resp.Feedback.Errors, resp.Feedback.HiddenErrors)
	}
	stored, err := f.submissions.Get(ctx, nil, "sub-2")
	if err != nil {
		t.Fatalf("submission not stored: %v", err)
	}
	b, ok := bundle.Rehydrate(stored.Bundle)
	if !ok || len(b.Results) != 5 || b.Results[0].TestCaseID != imported[0].ID {
		t.Fatalf("bundle must reference the imported cases, got %+v", b)
	}
}

func TestGradeRegradesCorruptedBundle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	hash := bundle.ReuseKey("python", sqrCode, sqrCases())
	f.bundles.put(questionID, hash, []byte("{broken"))

	resp, err := f.svc.Grade(ctx, gradeRequest("sub-1"))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if resp.Reused || f.runner.callCount() != 5 {
		t.Fatalf("corrupted bundle must be graded again, reused=%v calls=%d", resp.Reused, f.runner.callCount())
	}
	if f.bundles.dropped != 1 {
		t.Fatalf("unreadable bundle should be dropped once, got %d", f.bundles.dropped)
	}
}

func TestGradeRejectsBeforeRunning(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		req   service.GradeRequest
		code  appErr.ErrorCode
	}{
		{
			name: "short_code",
			req:  service.GradeRequest{QuestionID: questionID, Language: "python", Code: "x = 1"},
			code: appErr.ValidationFailed,
		},
		{
			name: "missing_question",
			req:  service.GradeRequest{Language: "python", Code: sqrCode},
			code: appErr.ValidationFailed,
		},
		{
			name: "unknown_language",
			req:  service.GradeRequest{QuestionID: questionID, Language: "cobol", Code: sqrCode},
			code: appErr.LanguageNotSupported,
		},
		{
			name:  "no_test_cases",
			setup: func(f *fixture) { f.cases.cases[questionID] = nil },
			req:   gradeRequest("sub-1"),
			code:  appErr.NoTestCases,
		},
		{
			name: "invalid_display",
			setup: func(f *fixture) {
				cases := sqrCases()
				cases[4].Display = "SOMETIMES"
				f.cases.cases[questionID] = cases
			},
			req:  gradeRequest("sub-1"),
			code: appErr.TestCaseInvalid,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tc.setup != nil {
				tc.setup(f)
			}
			_, err := f.svc.Grade(context.Background(), tc.req)
			if !appErr.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
			if f.runner.callCount() != 0 || f.submissions.count() != 0 {
				t.Fatalf("nothing may run or be stored on rejection")
			}
		})
	}
}

func TestGradeShortCodeMessage(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Grade(context.Background(), service.GradeRequest{QuestionID: questionID, Language: "python", Code: "  "})
	if e := appErr.GetError(err); e == nil || e.Message != "Please provide an answer" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestGradeCodeTooLarge(t *testing.T) {
	f := newFixture(t, func(cfg *service.Config) { cfg.MaxCodeBytes = 16 })
	_, err := f.svc.Grade(context.Background(), gradeRequest("sub-1"))
	if !appErr.Is(err, appErr.CodeTooLarge) {
		t.Fatalf("expected CodeTooLarge, got %v", err)
	}
}

func TestGradeAbortedRun(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.outcomes["print(sqr(11))"] = result.Outcome{Status: result.StatusTimeout}

	resp, err := f.svc.Grade(context.Background(), gradeRequest("sub-1"))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if resp.Grade != (model.Grade{Score: 0, State: model.GradeIncorrect}) {
		t.Fatalf("unexpected grade %+v", resp.Grade)
	}
	if diff := cmp.Diff([]string{model.NarrativeAborted, model.NarrativeNoErrorsAllowed}, narrativeKeys(resp.Feedback)); diff != "" {
		t.Fatalf("narrative mismatch (-want +got):\n%s", diff)
	}
	if resp.Feedback.Abort == nil || resp.Feedback.Abort.TestCaseID != 3 {
		t.Fatalf("expected abort on case 3, got %+v", resp.Feedback.Abort)
	}
}

func TestGradeWaitsForConcurrentGrading(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	hash := bundle.ReuseKey("python", sqrCode, sqrCases())
	if token, _ := f.bundles.Lock(ctx, questionID, hash, time.Minute); token == "" {
		t.Fatalf("lock setup failed")
	}
	data, err := bundle.Serialize(model.ResultBundle{Results: []model.TestResult{
		{TestCaseID: 1, Output: "0\n", IsCorrect: true},
		{TestCaseID: 2, Output: "1\n", IsCorrect: true},
		{TestCaseID: 3, Output: "121\n", IsCorrect: true},
		{TestCaseID: 4, Output: "49\n", IsCorrect: true},
		{TestCaseID: 5, Output: "36\n", IsCorrect: true},
	}})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		f.bundles.put(questionID, hash, data)
	}()

	resp, err := f.svc.Grade(ctx, gradeRequest("sub-2"))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if !resp.Reused || f.runner.callCount() != 0 {
		t.Fatalf("expected reuse of the concurrent result, reused=%v calls=%d", resp.Reused, f.runner.callCount())
	}
}

func TestGradeRunsWhenLockWaitExpires(t *testing.T) {
	f := newFixture(t, func(cfg *service.Config) { cfg.LockWait = 20 * time.Millisecond })
	ctx := context.Background()
	hash := bundle.ReuseKey("python", sqrCode, sqrCases())
	if token, _ := f.bundles.Lock(ctx, questionID, hash, time.Minute); token == "" {
		t.Fatalf("lock setup failed")
	}
	resp, err := f.svc.Grade(ctx, gradeRequest("sub-1"))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if resp.Reused || f.runner.callCount() != 5 {
		t.Fatalf("expected a fresh run after the wait, reused=%v calls=%d", resp.Reused, f.runner.callCount())
	}
	if !f.bundles.held(questionID, hash) || f.bundles.unlocks != 0 {
		t.Fatalf("a grading that never owned the lock must not release it, unlocks=%d", f.bundles.unlocks)
	}
}

func TestGradeReleasesOwnLock(t *testing.T) {
	f := newFixture(t, nil)
	hash := bundle.ReuseKey("python", sqrCode, sqrCases())
	if _, err := f.svc.Grade(context.Background(), gradeRequest("sub-1")); err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if f.bundles.held(questionID, hash) || f.bundles.unlocks != 1 {
		t.Fatalf("expected the grading lock to be released once, unlocks=%d", f.bundles.unlocks)
	}
}

func TestGradeWithoutLockStore(t *testing.T) {
	f := newFixture(t, nil)
	f.bundles.lockErr = errors.New("redis down")
	resp, err := f.svc.Grade(context.Background(), gradeRequest("sub-1"))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if resp.Reused || f.runner.callCount() != 5 {
		t.Fatalf("expected a plain run, reused=%v calls=%d", resp.Reused, f.runner.callCount())
	}
	if f.bundles.unlocks != 0 {
		t.Fatalf("no lock was taken, so none may be released, unlocks=%d", f.bundles.unlocks)
	}
}

func TestGradeIgnoresBundleLookupFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.bundles.findErr = errors.New("redis down")
	resp, err := f.svc.Grade(context.Background(), gradeRequest("sub-1"))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if resp.Grade.State != model.GradeCorrect {
		t.Fatalf("unexpected grade %+v", resp.Grade)
	}
}

func TestGradePoolFull(t *testing.T) {
	f := newFixture(t, func(cfg *service.Config) {
		cfg.WorkerPoolSize = 1
		cfg.SlotWait = 20 * time.Millisecond
	})
	f.runner.entered = make(chan struct{}, 1)
	f.runner.gate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = f.svc.Grade(context.Background(), gradeRequest("sub-1"))
	}()
	<-f.runner.entered

	req := gradeRequest("sub-2")
	req.Code = sqrCode + "# another attempt\n"
	_, err := f.svc.Grade(context.Background(), req)
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}

	close(f.runner.gate)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first grading failed: %v", firstErr)
	}
}

func TestFeedback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.runner.outcomes["print(sqr(-6))"] = result.Outcome{Output: "-36\n", Status: result.StatusOK}
	graded, err := f.svc.Grade(ctx, gradeRequest("sub-1"))
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}

	got, err := f.svc.Feedback(ctx, "sub-1")
	if err != nil {
		t.Fatalf("feedback failed: %v", err)
	}
	if diff := cmp.Diff(graded.Feedback, got.Feedback); diff != "" {
		t.Fatalf("rebuilt feedback differs (-graded +rebuilt):\n%s", diff)
	}
	if diff := cmp.Diff([]string{model.NarrativeFailedHidden, model.NarrativeNoErrorsAllowed}, narrativeKeys(got.Feedback)); diff != "" {
		t.Fatalf("narrative mismatch (-want +got):\n%s", diff)
	}
	if got.Grade.State != model.GradeIncorrect {
		t.Fatalf("unexpected grade %+v", got.Grade)
	}
}

func TestFeedbackCorruptedBundle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.submissions.rows["sub-9"] = &repository.Submission{
		SubmissionID: "sub-9",
		QuestionID:   questionID,
		CodeHash:     "deadbeef",
		Bundle:       []byte("not json"),
		State:        model.GradeIncorrect,
	}

	got, err := f.svc.Feedback(ctx, "sub-9")
	if err != nil {
		t.Fatalf("feedback failed: %v", err)
	}
	if got.Feedback.Available {
		t.Fatalf("corrupted bundle must not be available")
	}
	if diff := cmp.Diff([]string{model.NarrativeNoResults}, narrativeKeys(got.Feedback)); diff != "" {
		t.Fatalf("narrative mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedbackUnknownSubmission(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Feedback(context.Background(), "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestExamples(t *testing.T) {
	f := newFixture(t, nil)
	ex, err := f.svc.Examples(context.Background(), questionID)
	if err != nil {
		t.Fatalf("examples failed: %v", err)
	}
	if !ex.Tabular || len(ex.Rows) != 2 {
		t.Fatalf("unexpected examples %+v", ex)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	records, err := f.svc.Export(ctx, questionID)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if _, err := f.svc.Import(ctx, 8, records); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	again, err := f.svc.Export(ctx, 8)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if diff := cmp.Diff(records, again); diff != "" {
		t.Fatalf("records changed across import (-want +got):\n%s", diff)
	}
}

func TestImportRejectsMissingExpectedOutput(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Import(context.Background(), questionID, []backup.Record{{Input: "print(1)"}})
	if !appErr.Is(err, appErr.TestCaseInvalid) {
		t.Fatalf("expected TestCaseInvalid, got %v", err)
	}
	if len(f.cases.cases[questionID]) != 5 {
		t.Fatalf("existing cases must be untouched")
	}
}

func TestExportArchive(t *testing.T) {
	f := newFixture(t, nil)
	key, err := f.svc.ExportArchive(context.Background(), questionID)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if key == "" || f.archiver.questionID != questionID || len(f.archiver.records) != 5 {
		t.Fatalf("unexpected archive call key=%q archiver=%+v", key, f.archiver)
	}

	noArchive := newFixture(t, func(cfg *service.Config) { cfg.Archiver = nil })
	if _, err := noArchive.svc.ExportArchive(context.Background(), questionID); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}

func TestArchivesListsDownloadLinks(t *testing.T) {
	f := newFixture(t, func(cfg *service.Config) { cfg.ArchiveLinkTTL = 5 * time.Minute })
	ctx := context.Background()
	first, _ := f.svc.ExportArchive(ctx, questionID)
	second, _ := f.svc.ExportArchive(ctx, questionID)

	archives, err := f.svc.Archives(ctx, questionID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(archives) != 2 || archives[0].ObjectKey != second || archives[1].ObjectKey != first {
		t.Fatalf("expected newest archive first, got %+v", archives)
	}
	if archives[0].DownloadURL != "https://storage.local/"+second || f.archiver.linkTTL != 5*time.Minute {
		t.Fatalf("unexpected download link %q ttl=%v", archives[0].DownloadURL, f.archiver.linkTTL)
	}
	if other, _ := f.svc.Archives(ctx, questionID+1); len(other) != 0 {
		t.Fatalf("archives of another question leaked: %+v", other)
	}
}

func TestImportArchiveRestoresCases(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key, err := f.svc.ExportArchive(ctx, questionID)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if _, err := f.svc.Import(ctx, questionID, f.archiver.records[:1]); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	restored, err := f.svc.ImportArchive(ctx, questionID, key)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if len(restored) != 5 || len(f.cases.cases[questionID]) != 5 {
		t.Fatalf("expected all archived cases restored, got %d", len(restored))
	}

	if _, err := f.svc.ImportArchive(ctx, questionID+1, key); !appErr.Is(err, appErr.BackupInvalid) {
		t.Fatalf("expected BackupInvalid for another question's archive, got %v", err)
	}
	if _, err := f.svc.ImportArchive(ctx, questionID, "missing"); !appErr.Is(err, appErr.ObjectNotFound) {
		t.Fatalf("expected ObjectNotFound, got %v", err)
	}
	noArchive := newFixture(t, func(cfg *service.Config) { cfg.Archiver = nil })
	if _, err := noArchive.svc.ImportArchive(ctx, questionID, key); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}
