package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerCacheTTL bounds how long unsynced answers survive an abandoned session.
const AnswerCacheTTL = 24 * time.Hour

// AnswerCache keeps one user's recorded answers in a Redis hash so a
// reconnecting session resumes with everything it recorded locally.
type AnswerCache struct {
	rdb    *redis.Client
	userID string
}

// NewAnswerCache returns the cache for userID.
func NewAnswerCache(rdb *redis.Client, userID string) *AnswerCache {
	return &AnswerCache{rdb: rdb, userID: userID}
}

// SaveAnswer writes one answer, refreshing the key TTL.
func (c *AnswerCache) SaveAnswer(ctx context.Context, assessmentID, questionID string, answer model.Answer) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer %s: %w", questionID, err)
	}

	key := config.CacheKey.SessionAnswersKey(assessmentID, c.userID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, questionID, data)
	pipe.Expire(ctx, key, AnswerCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache answer %s: %w", questionID, err)
	}
	return nil
}

// Load returns every cached answer. Entries that no longer decode are skipped.
func (c *AnswerCache) Load(ctx context.Context, assessmentID string) (map[string]model.Answer, error) {
	raw, err := c.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(assessmentID, c.userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load cached answers: %w", err)
	}

	answers := make(map[string]model.Answer, len(raw))
	for qid, v := range raw {
		var a model.Answer
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			continue
		}
		answers[qid] = a
	}
	return answers, nil
}

// Clear drops the cached answers and proctor log for the assessment.
func (c *AnswerCache) Clear(ctx context.Context, assessmentID string) error {
	err := c.rdb.Del(ctx,
		config.CacheKey.SessionAnswersKey(assessmentID, c.userID),
		config.CacheKey.SessionLogKey(assessmentID, c.userID),
	).Err()
	if err != nil {
		return fmt.Errorf("clear cached session: %w", err)
	}
	return nil
}
