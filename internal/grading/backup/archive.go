package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/cosc121od/pycode/internal/common/storage"
	appErr "github.com/cosc121od/pycode/pkg/errors"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

const (
	archiveFormatVersion = 1
	archiveContentType   = "application/zstd"
	archiveSuffix        = ".json.zst"
	defaultKeyPrefix     = "testcase-backups"
	maxArchiveBytes      = 64 << 20
)

// Document is the archived form of a question's test case list.
type Document struct {
	Version    int      `json:"version"`
	QuestionID int64    `json:"questionId"`
	ExportedAt int64    `json:"exportedAt"`
	Records    []Record `json:"records"`
}

// Archiver stores zstd-compressed backup documents in object storage.
type Archiver struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	now     func() time.Time
}

// NewArchiver creates an archiver writing under prefix in bucket.
func NewArchiver(storageClient storage.ObjectStorage, bucket, prefix string) *Archiver {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Archiver{
		storage: storageClient,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		now:     time.Now,
	}
}

// Save compresses the records and uploads them, returning the object key.
func (a *Archiver) Save(ctx context.Context, questionID int64, records []Record) (string, error) {
	if a.storage == nil {
		return "", appErr.New(appErr.StorageError).WithMessage("storage client is not initialized")
	}
	if questionID <= 0 {
		return "", appErr.ValidationError("question_id", "required")
	}
	exportedAt := a.now().UTC()
	payload, err := json.Marshal(Document{
		Version:    archiveFormatVersion,
		QuestionID: questionID,
		ExportedAt: exportedAt.Unix(),
		Records:    records,
	})
	if err != nil {
		return "", appErr.Wrapf(err, appErr.BackupWriteFailed, "encode backup document failed")
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.BackupWriteFailed, "create zstd writer failed")
	}
	if _, err := enc.Write(payload); err != nil {
		_ = enc.Close()
		return "", appErr.Wrapf(err, appErr.BackupWriteFailed, "compress backup failed")
	}
	if err := enc.Close(); err != nil {
		return "", appErr.Wrapf(err, appErr.BackupWriteFailed, "compress backup failed")
	}

	key := fmt.Sprintf("%s/%d/%s%s", a.prefix, questionID, exportedAt.Format("20060102T150405.000000000Z"), archiveSuffix)
	size := int64(buf.Len())
	if err := a.storage.PutObject(ctx, a.bucket, key, &buf, size, archiveContentType); err != nil {
		return "", appErr.Wrapf(err, appErr.BackupWriteFailed, "upload backup failed")
	}
	logger.Info(ctx, "test case backup stored",
		zap.Int64("question_id", questionID),
		zap.String("object_key", key),
		zap.Int("records", len(records)),
		zap.Int64("compressed_bytes", size),
		zap.Int("raw_bytes", len(payload)),
	)
	return key, nil
}

// Load downloads and decodes a backup document.
func (a *Archiver) Load(ctx context.Context, objectKey string) (Document, error) {
	if a.storage == nil {
		return Document{}, appErr.New(appErr.StorageError).WithMessage("storage client is not initialized")
	}
	if objectKey == "" {
		return Document{}, appErr.ValidationError("object_key", "required")
	}
	reader, err := a.storage.GetObject(ctx, a.bucket, objectKey)
	if err != nil {
		return Document{}, appErr.Wrapf(err, appErr.ObjectNotFound, "download backup failed")
	}
	defer reader.Close()

	dec, err := zstd.NewReader(reader)
	if err != nil {
		return Document{}, appErr.Wrapf(err, appErr.BackupInvalid, "create zstd reader failed")
	}
	defer dec.Close()

	data, err := io.ReadAll(io.LimitReader(dec, maxArchiveBytes+1))
	if err != nil {
		return Document{}, appErr.Wrapf(err, appErr.BackupInvalid, "decompress backup failed")
	}
	if len(data) > maxArchiveBytes {
		return Document{}, appErr.New(appErr.BackupInvalid).WithMessage("backup exceeds the size limit")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, appErr.Wrapf(err, appErr.BackupInvalid, "decode backup document failed")
	}
	if doc.Version != archiveFormatVersion {
		return Document{}, appErr.Newf(appErr.BackupInvalid, "unsupported backup version %d", doc.Version)
	}
	return doc, nil
}

// List returns the archived backups of a question, newest first.
func (a *Archiver) List(ctx context.Context, questionID int64) ([]storage.ObjectInfo, error) {
	if a.storage == nil {
		return nil, appErr.New(appErr.StorageError).WithMessage("storage client is not initialized")
	}
	prefix := fmt.Sprintf("%s/%d/", a.prefix, questionID)
	var objects []storage.ObjectInfo
	for obj := range a.storage.ListObjects(ctx, a.bucket, prefix) {
		if obj.Err != nil {
			return nil, appErr.Wrapf(obj.Err, appErr.StorageError, "list backups failed")
		}
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })
	return objects, nil
}

// DownloadURL returns a presigned link to an archived backup.
func (a *Archiver) DownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	if a.storage == nil {
		return "", appErr.New(appErr.StorageError).WithMessage("storage client is not initialized")
	}
	url, err := a.storage.PresignGetObject(ctx, a.bucket, objectKey, ttl)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "presign backup failed")
	}
	return url, nil
}
