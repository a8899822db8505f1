package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cosc121od/pycode/internal/common/cache"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

const (
	defaultBundleTTL      = 24 * time.Hour
	defaultBundleEmptyTTL = time.Minute
	bundleKeyPrefix       = "grading:bundle:"
	gradingLockKeyPrefix  = "grading:lock:"
)

// BundleCache finds encoded result bundles of earlier gradings by
// (question, code hash), reading Redis first and MySQL on a miss.
type BundleCache struct {
	cache       cache.Cache
	submissions SubmissionRepository
	ttl         time.Duration
	emptyTTL    time.Duration
}

// NewBundleCache creates a bundle cache. A zero ttl uses the defaults.
func NewBundleCache(cacheClient cache.Cache, submissions SubmissionRepository, ttl, emptyTTL time.Duration) *BundleCache {
	if ttl <= 0 {
		ttl = defaultBundleTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultBundleEmptyTTL
	}
	return &BundleCache{cache: cacheClient, submissions: submissions, ttl: ttl, emptyTTL: emptyTTL}
}

// Find returns the encoded bundle stored for identical code, if any.
func (c *BundleCache) Find(ctx context.Context, questionID int64, codeHash string) ([]byte, bool, error) {
	if c.cache == nil {
		return nil, false, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	aside := cache.Aside[string]{
		TTL:      c.ttl,
		EmptyTTL: c.emptyTTL,
		IsEmpty:  func(s string) bool { return s == "" },
		Encode:   func(s string) string { return s },
		Decode:   func(s string) (string, error) { return s, nil },
	}
	data, err := aside.Get(ctx, c.cache, bundleKey(questionID, codeHash), func(ctx context.Context) (string, error) {
		if c.submissions == nil {
			return "", nil
		}
		submission, err := c.submissions.FindGraded(ctx, questionID, codeHash)
		if err != nil {
			if errors.Is(err, ErrSubmissionNotFound) {
				return "", nil
			}
			return "", err
		}
		return string(submission.Bundle), nil
	})
	if err != nil {
		return nil, false, err
	}
	if data == "" {
		return nil, false, nil
	}
	return []byte(data), true, nil
}

// Store caches an encoded bundle, replacing any cached miss.
func (c *BundleCache) Store(ctx context.Context, questionID int64, codeHash string, data []byte) error {
	if c.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if err := c.cache.Set(ctx, bundleKey(questionID, codeHash), string(data), cache.JitterTTL(c.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "store result bundle failed")
	}
	return nil
}

// Invalidate drops the cached bundle for identical code.
func (c *BundleCache) Invalidate(ctx context.Context, questionID int64, codeHash string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Del(ctx, bundleKey(questionID, codeHash))
}

// Lock marks a grading of identical code as in progress. It returns the
// owner token, or "" while another grading holds the lock.
func (c *BundleCache) Lock(ctx context.Context, questionID int64, codeHash string, ttl time.Duration) (string, error) {
	if c.cache == nil {
		return "", appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	token, err := c.cache.TryLock(ctx, lockKey(questionID, codeHash), ttl)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.LockFailed, "acquire grading lock failed")
	}
	return token, nil
}

// Unlock releases a grading lock still owned by token.
func (c *BundleCache) Unlock(ctx context.Context, questionID int64, codeHash, token string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Unlock(ctx, lockKey(questionID, codeHash), token)
}

func bundleKey(questionID int64, codeHash string) string {
	return fmt.Sprintf("%s%d:%s", bundleKeyPrefix, questionID, codeHash)
}

func lockKey(questionID int64, codeHash string) string {
	return fmt.Sprintf("%s%d:%s", gradingLockKeyPrefix, questionID, codeHash)
}
