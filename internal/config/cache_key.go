package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionNamespace returns the key prefix for everything cached for one LMS session.
func (r *CacheKeyStruct) SessionNamespace(sessionID string) string {
	return fmt.Sprintf("lms_session:%s:", sessionID)
}

// ModuleStatusChannel returns the Redis PubSub channel carrying status changes for a module.
func (r *CacheKeyStruct) ModuleStatusChannel(courseID, moduleID int) string {
	return fmt.Sprintf("course:%d:module:%d:proctor_status", courseID, moduleID)
}

var CacheKey = NewCacheKeyStruct()
