package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionAnswersKey returns the cache key for a user's locally recorded answers
func (r *CacheKeyStruct) SessionAnswersKey(assessmentID, userID string) string {
	return fmt.Sprintf("user:%s:assessment:%s:answers", userID, assessmentID)
}

// SessionLogKey returns the cache key for a user's proctoring log (warnings and violations)
func (r *CacheKeyStruct) SessionLogKey(assessmentID, userID string) string {
	return fmt.Sprintf("user:%s:assessment:%s:proctor_log", userID, assessmentID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel name for an assessment monitor
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
