package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func AnalysisStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("analysis:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
