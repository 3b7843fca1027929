package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const (
	CallCachePrefix    = "gateway:response:"
	ExecutionKeyPrefix = "workflow:execution:"
	AuditKeyPrefix     = "audit:record:"
)

// CallCacheKey derives the deterministic cache key for an idempotent outbound
// call: a hash of dependency id, endpoint, and sorted query params, so the
// same logical request always maps to the same entry.
func CallCacheKey(dependency, endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(dependency)
	b.WriteByte(':')
	b.WriteString(endpoint)
	for _, k := range keys {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return CallCachePrefix + dependency + ":" + hex.EncodeToString(sum[:])
}

func ExecutionKey(executionID string) string {
	return ExecutionKeyPrefix + executionID
}

func AuditKey(correlationID string, seq int64) string {
	return fmt.Sprintf("%s%s:%012d", AuditKeyPrefix, correlationID, seq)
}
