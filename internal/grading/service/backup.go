package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cosc121od/pycode/internal/grading/backup"
	"github.com/cosc121od/pycode/internal/grading/model"
	appErr "github.com/cosc121od/pycode/pkg/errors"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

// Export returns the test case list of a question as backup records.
func (s *Service) Export(ctx context.Context, questionID int64) ([]backup.Record, error) {
	if questionID <= 0 {
		return nil, appErr.ValidationError("question_id", "required")
	}
	cases, err := s.testCases.ListByQuestion(ctx, nil, questionID)
	if err != nil {
		return nil, err
	}
	return backup.FromTestCases(cases), nil
}

// ExportArchive uploads the backup of a question to object storage and
// returns the object key.
func (s *Service) ExportArchive(ctx context.Context, questionID int64) (string, error) {
	if s.archiver == nil {
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("backup archive is not configured")
	}
	records, err := s.Export(ctx, questionID)
	if err != nil {
		return "", err
	}
	return s.archiver.Save(ctx, questionID, records)
}

// Import replaces the test cases of a question with the given records. All
// records are checked before anything is written.
func (s *Service) Import(ctx context.Context, questionID int64, records []backup.Record) ([]model.TestCase, error) {
	if questionID <= 0 {
		return nil, appErr.ValidationError("question_id", "required")
	}
	cases, err := backup.ToTestCases(records)
	if err != nil {
		return nil, err
	}
	stored, err := s.testCases.Replace(ctx, questionID, cases)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "test cases imported", zap.Int64("question_id", questionID), zap.Int("count", len(stored)))
	return stored, nil
}

// Archive describes one stored backup of a question.
type Archive struct {
	ObjectKey   string    `json:"objectKey"`
	SizeBytes   int64     `json:"sizeBytes"`
	StoredAt    time.Time `json:"storedAt"`
	DownloadURL string    `json:"downloadUrl"`
}

// Archives lists the stored backups of a question, newest first, with download links.
func (s *Service) Archives(ctx context.Context, questionID int64) ([]Archive, error) {
	if s.archiver == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("backup archive is not configured")
	}
	if questionID <= 0 {
		return nil, appErr.ValidationError("question_id", "required")
	}
	objects, err := s.archiver.List(ctx, questionID)
	if err != nil {
		return nil, err
	}
	archives := make([]Archive, 0, len(objects))
	for _, obj := range objects {
		link, err := s.archiver.DownloadURL(ctx, obj.Key, s.archiveTTL)
		if err != nil {
			return nil, err
		}
		archives = append(archives, Archive{
			ObjectKey:   obj.Key,
			SizeBytes:   obj.SizeBytes,
			StoredAt:    obj.LastModified,
			DownloadURL: link,
		})
	}
	return archives, nil
}

// ImportArchive restores the test cases of a question from one of its stored backups.
func (s *Service) ImportArchive(ctx context.Context, questionID int64, objectKey string) ([]model.TestCase, error) {
	if s.archiver == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("backup archive is not configured")
	}
	if questionID <= 0 {
		return nil, appErr.ValidationError("question_id", "required")
	}
	doc, err := s.archiver.Load(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	if doc.QuestionID != questionID {
		return nil, appErr.Newf(appErr.BackupInvalid, "backup belongs to question %d", doc.QuestionID)
	}
	logger.Info(ctx, "restoring test cases from archive",
		zap.Int64("question_id", questionID),
		zap.String("object_key", objectKey),
		zap.Int64("exported_at", doc.ExportedAt),
	)
	return s.Import(ctx, questionID, doc.Records)
}
