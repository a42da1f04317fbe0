package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeriveChildJobID computes the deterministic job id of a specialist sub-solve:
// parent + ":spec:" + sanitized specialization + ":" + 8-hex hash of the task.
// A pure function of its inputs, so retries of the same task under the same
// parent are idempotent and never collide with the parent's lock.
func DeriveChildJobID(parentJobID, specialization, task string) string {
	sum := sha256.Sum256([]byte(task))
	return parentJobID + ":spec:" + sanitizeSpecialization(specialization) + ":" + hex.EncodeToString(sum[:4])
}

// sanitizeSpecialization lowercases the tag and collapses everything outside
// [a-z0-9] into single dashes.
func sanitizeSpecialization(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
