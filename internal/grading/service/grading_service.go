// Package service orchestrates grading, feedback and test case backups.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cosc121od/pycode/internal/common/storage"
	"github.com/cosc121od/pycode/internal/grading/backup"
	"github.com/cosc121od/pycode/internal/grading/bundle"
	"github.com/cosc121od/pycode/internal/grading/executor"
	"github.com/cosc121od/pycode/internal/grading/feedback"
	"github.com/cosc121od/pycode/internal/grading/grader"
	"github.com/cosc121od/pycode/internal/grading/model"
	"github.com/cosc121od/pycode/internal/grading/repository"
	"github.com/cosc121od/pycode/internal/grading/sandbox/runner"
	"github.com/cosc121od/pycode/internal/grading/sandbox/spec"
	appErr "github.com/cosc121od/pycode/pkg/errors"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

const (
	defaultMaxCodeBytes   = 64 * 1024
	defaultSlotWait       = 2 * time.Second
	defaultLockTTL        = 2 * time.Minute
	defaultLockWait       = 5 * time.Second
	defaultLockPoll       = 200 * time.Millisecond
	defaultPublishTimeout = 3 * time.Second
)

// RunnerProvider resolves the sandbox runner of a language.
type RunnerProvider interface {
	Get(languageID string) (runner.CodeRunner, error)
}

// BundleStore finds and caches encoded bundles of identical code.
type BundleStore interface {
	Find(ctx context.Context, questionID int64, codeHash string) ([]byte, bool, error)
	Store(ctx context.Context, questionID int64, codeHash string, data []byte) error
	Invalidate(ctx context.Context, questionID int64, codeHash string) error
	Lock(ctx context.Context, questionID int64, codeHash string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, questionID int64, codeHash, token string) error
}

// BackupArchiver keeps backup documents in object storage.
type BackupArchiver interface {
	Save(ctx context.Context, questionID int64, records []backup.Record) (string, error)
	Load(ctx context.Context, objectKey string) (backup.Document, error)
	List(ctx context.Context, questionID int64) ([]storage.ObjectInfo, error)
	DownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// GradeRequest is one submission to grade. SubmissionID is generated when empty.
type GradeRequest struct {
	SubmissionID string `json:"submissionId"`
	QuestionID   int64  `json:"questionId"`
	Language     string `json:"language"`
	Code         string `json:"code"`
}

// GradeResponse is the verdict and feedback of a grading event.
type GradeResponse struct {
	SubmissionID string         `json:"submissionId"`
	Grade        model.Grade    `json:"grade"`
	Feedback     model.Feedback `json:"feedback"`
	Reused       bool           `json:"reused"`
}

// Service grades submissions and serves their feedback.
type Service struct {
	runners      RunnerProvider
	testCases    repository.TestCaseRepository
	submissions  repository.SubmissionRepository
	bundles      BundleStore
	publisher    repository.ResultEventPublisher
	archiver     BackupArchiver
	archiveTTL   time.Duration
	reporter     *feedback.Reporter
	cfg          model.Config
	limits       spec.ResourceLimit
	maxCodeBytes int
	slotWait     time.Duration
	lockTTL      time.Duration
	lockWait     time.Duration
	lockPoll     time.Duration
	sem          chan struct{}
	now          func() time.Time
}

// Config holds service dependencies and settings.
type Config struct {
	Runners     RunnerProvider
	TestCases   repository.TestCaseRepository
	Submissions repository.SubmissionRepository
	Bundles     BundleStore
	Publisher   repository.ResultEventPublisher
	Archiver    BackupArchiver
	// ArchiveLinkTTL is the lifetime of archive download links.
	ArchiveLinkTTL time.Duration

	Grading        model.Config
	Limits         spec.ResourceLimit
	MaxCodeBytes   int
	WorkerPoolSize int
	SlotWait       time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration
	LockPoll       time.Duration
}

// NewService creates a grading service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Runners == nil {
		return nil, fmt.Errorf("runner provider is required")
	}
	if cfg.TestCases == nil {
		return nil, fmt.Errorf("test case repository is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	gradingCfg := cfg.Grading.WithDefaults()
	s := &Service{
		runners:      cfg.Runners,
		testCases:    cfg.TestCases,
		submissions:  cfg.Submissions,
		bundles:      cfg.Bundles,
		publisher:    cfg.Publisher,
		archiver:     cfg.Archiver,
		archiveTTL:   cfg.ArchiveLinkTTL,
		reporter:     feedback.NewReporter(gradingCfg),
		cfg:          gradingCfg,
		limits:       cfg.Limits,
		maxCodeBytes: cfg.MaxCodeBytes,
		slotWait:     cfg.SlotWait,
		lockTTL:      cfg.LockTTL,
		lockWait:     cfg.LockWait,
		lockPoll:     cfg.LockPoll,
		sem:          make(chan struct{}, poolSize),
		now:          time.Now,
	}
	if s.maxCodeBytes <= 0 {
		s.maxCodeBytes = defaultMaxCodeBytes
	}
	if s.slotWait <= 0 {
		s.slotWait = defaultSlotWait
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.lockWait < 0 {
		s.lockWait = 0
	} else if s.lockWait == 0 {
		s.lockWait = defaultLockWait
	}
	if s.lockPoll <= 0 {
		s.lockPoll = defaultLockPoll
	}
	return s, nil
}

// Grade runs a submission against the question's test cases, or reuses the
// bundle of an earlier grading of identical code.
func (s *Service) Grade(ctx context.Context, req GradeRequest) (*GradeResponse, error) {
	if req.QuestionID <= 0 {
		return nil, appErr.ValidationError("question_id", "required")
	}
	if req.Language == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	if err := grader.Validate(req.Code); err != nil {
		return nil, err
	}
	if len(req.Code) > s.maxCodeBytes {
		return nil, appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", s.maxCodeBytes)
	}
	codeRunner, err := s.runners.Get(req.Language)
	if err != nil {
		return nil, err
	}
	cases, err := s.loadCases(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}

	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}
	codeHash := bundle.ReuseKey(req.Language, req.Code, cases)

	if b, data, ok := s.findBundle(ctx, req.QuestionID, codeHash); ok {
		logger.Info(ctx, "reusing earlier grading",
			zap.String("submission_id", req.SubmissionID),
			zap.Int64("question_id", req.QuestionID),
			zap.String("code_hash", codeHash),
		)
		return s.finish(ctx, req, codeHash, cases, b, data, true)
	}

	if err := s.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer s.releaseSlot()

	token, proceed := s.lock(ctx, req.QuestionID, codeHash)
	if token != "" {
		defer s.unlock(req.QuestionID, codeHash, token)
	}
	if !proceed {
		if b, data, ok := s.waitForBundle(ctx, req.QuestionID, codeHash); ok {
			return s.finish(ctx, req, codeHash, cases, b, data, true)
		}
	}

	exec := executor.New(codeRunner, s.cfg, s.limits)
	exec.SetProgressReporter(executor.ProgressFunc(func(ctx context.Context, total, done int) {
		logger.Debug(ctx, "grading progress",
			zap.String("submission_id", req.SubmissionID),
			zap.Int("done", done),
			zap.Int("total", total),
		)
	}))
	started := s.now()
	results, err := exec.Execute(ctx, req.Code, cases)
	if err != nil {
		return nil, err
	}
	data, err := bundle.Serialize(results)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "submission graded",
		zap.String("submission_id", req.SubmissionID),
		zap.Int64("question_id", req.QuestionID),
		zap.String("language", req.Language),
		zap.Int("results", len(results.Results)),
		zap.Int("cases", len(cases)),
		zap.Bool("aborted", results.Aborted()),
		zap.Duration("elapsed", s.now().Sub(started)),
	)
	if s.bundles != nil {
		if err := s.bundles.Store(ctx, req.QuestionID, codeHash, data); err != nil {
			logger.Warn(ctx, "cache result bundle failed", zap.String("submission_id", req.SubmissionID), zap.Error(err))
		}
	}
	return s.finish(ctx, req, codeHash, cases, results, data, false)
}

// Feedback rebuilds the feedback of a stored grading event. A corrupted
// bundle yields the no-results feedback instead of an error.
func (s *Service) Feedback(ctx context.Context, submissionID string) (*GradeResponse, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	submission, err := s.submissions.Get(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, err
	}
	cases, err := s.testCases.ListByQuestion(ctx, nil, submission.QuestionID)
	if err != nil {
		return nil, err
	}
	b, ok := bundle.Rehydrate(submission.Bundle)
	if !ok {
		logger.Warn(ctx, "stored result bundle is unreadable", zap.String("submission_id", submissionID))
	}
	return &GradeResponse{
		SubmissionID: submission.SubmissionID,
		Grade:        model.Grade{Score: submission.Score, State: submission.State},
		Feedback:     s.reporter.Build(cases, b, ok),
	}, nil
}

// Examples returns the examples block of a question.
func (s *Service) Examples(ctx context.Context, questionID int64) (model.Examples, error) {
	if questionID <= 0 {
		return model.Examples{}, appErr.ValidationError("question_id", "required")
	}
	cases, err := s.testCases.ListByQuestion(ctx, nil, questionID)
	if err != nil {
		return model.Examples{}, err
	}
	return s.reporter.Examples(cases), nil
}

// Languages lists the languages the service can grade.
func (s *Service) Languages() []string {
	if lister, ok := s.runners.(interface{ Languages() []string }); ok {
		return lister.Languages()
	}
	return nil
}

func (s *Service) loadCases(ctx context.Context, questionID int64) ([]model.TestCase, error) {
	cases, err := s.testCases.ListByQuestion(ctx, nil, questionID)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, appErr.Newf(appErr.NoTestCases, "question %d has no test cases", questionID)
	}
	if err := model.ValidateCases(cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// finish grades a bundle, persists the event and publishes it.
func (s *Service) finish(ctx context.Context, req GradeRequest, codeHash string, cases []model.TestCase, b model.ResultBundle, data []byte, reused bool) (*GradeResponse, error) {
	grade := grader.Grade(cases, b)
	submission := &repository.Submission{
		SubmissionID: req.SubmissionID,
		QuestionID:   req.QuestionID,
		Language:     req.Language,
		Code:         req.Code,
		CodeHash:     codeHash,
		Bundle:       data,
		Score:        grade.Score,
		State:        grade.State,
	}
	if err := s.submissions.Save(ctx, nil, submission); err != nil {
		return nil, err
	}
	s.publish(ctx, repository.ResultEvent{
		SubmissionID: req.SubmissionID,
		QuestionID:   req.QuestionID,
		Score:        grade.Score,
		State:        grade.State,
		Reused:       reused,
		CreatedAt:    s.now().Unix(),
	})
	return &GradeResponse{
		SubmissionID: req.SubmissionID,
		Grade:        grade,
		Feedback:     s.reporter.Build(cases, b, true),
		Reused:       reused,
	}, nil
}

func (s *Service) findBundle(ctx context.Context, questionID int64, codeHash string) (model.ResultBundle, []byte, bool) {
	if s.bundles == nil {
		return model.ResultBundle{}, nil, false
	}
	data, found, err := s.bundles.Find(ctx, questionID, codeHash)
	if err != nil {
		logger.Warn(ctx, "lookup earlier grading failed", zap.Int64("question_id", questionID), zap.Error(err))
		return model.ResultBundle{}, nil, false
	}
	if !found {
		return model.ResultBundle{}, nil, false
	}
	b, ok := bundle.Rehydrate(data)
	if !ok {
		logger.Warn(ctx, "cached result bundle is unreadable, grading again",
			zap.Int64("question_id", questionID),
			zap.String("code_hash", codeHash),
		)
		if err := s.bundles.Invalidate(ctx, questionID, codeHash); err != nil {
			logger.Warn(ctx, "drop unreadable result bundle failed", zap.Error(err))
		}
		return model.ResultBundle{}, nil, false
	}
	return b, data, true
}

// lock returns the owner token of the grading lock and whether to grade now.
// An unavailable lock store grades without a token.
func (s *Service) lock(ctx context.Context, questionID int64, codeHash string) (string, bool) {
	if s.bundles == nil {
		return "", true
	}
	token, err := s.bundles.Lock(ctx, questionID, codeHash, s.lockTTL)
	if err != nil {
		logger.Warn(ctx, "grading lock unavailable, grading without it", zap.Error(err))
		return "", true
	}
	return token, token != ""
}

func (s *Service) unlock(questionID int64, codeHash, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.bundles.Unlock(ctx, questionID, codeHash, token); err != nil {
		logger.Warn(ctx, "release grading lock failed", zap.Int64("question_id", questionID), zap.Error(err))
	}
}

// waitForBundle polls for the bundle of a concurrent grading of identical code.
func (s *Service) waitForBundle(ctx context.Context, questionID int64, codeHash string) (model.ResultBundle, []byte, bool) {
	deadline := time.NewTimer(s.lockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.lockPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return model.ResultBundle{}, nil, false
		case <-deadline.C:
			logger.Info(ctx, "concurrent grading did not finish in time, grading again",
				zap.Int64("question_id", questionID),
				zap.String("code_hash", codeHash),
			)
			return model.ResultBundle{}, nil, false
		case <-ticker.C:
			if b, data, ok := s.findBundle(ctx, questionID, codeHash); ok {
				return b, data, true
			}
		}
	}
}

func (s *Service) publish(ctx context.Context, event repository.ResultEvent) {
	if s.publisher == nil {
		return
	}
	ctxPub, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	if err := s.publisher.PublishResult(ctxPub, event); err != nil {
		logger.Warn(ctx, "publish result event failed", zap.String("submission_id", event.SubmissionID), zap.Error(err))
	}
}
