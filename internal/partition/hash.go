package partition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for content-addressed commit identity. The version suffix
// allows a future algorithm change without colliding with old IDs.
const domainCommit = "publicspace/commit/v1"

// hashWithDomain computes SHA256(domain || 0x00 || data). The null byte
// prevents ambiguity between the domain and data boundary.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CommitID computes the content-addressed ID of a commit-log entry.
//
// The geometry participates through its WKB encoding (hex), not through
// its area: two different slivers can share an area but never a shape.
// Same inputs always produce the same ID, so a replayed run regenerates
// the identical log.
func CommitID(runToken string, stepID int, category Category, wkb []byte, seq int64) (string, error) {
	obj := map[string]any{
		"run_token": runToken,
		"step_id":   stepID,
		"category":  string(category),
		"geometry":  hex.EncodeToString(wkb),
		"seq":       seq,
	}
	canonical, err := marshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CommitID: marshal: %w", err)
	}
	return hashWithDomain(domainCommit, canonical), nil
}

// MustCommitID is like CommitID but panics on error. Test helper.
func MustCommitID(runToken string, stepID int, category Category, wkb []byte, seq int64) string {
	id, err := CommitID(runToken, stepID, category, wkb, seq)
	if err != nil {
		panic(err)
	}
	return id
}
