// Package history is the Patch History component: after a
// successful apply it persists the patch image, the source hash, and the
// patch-token -> runtime-token map, and on host restart replays every
// still-valid record in timestamp order.
package history

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/GoCodeAlone/hotpatch/plan"
)

// Record is the literal struct Patch History Record.
type Record struct {
	PatchID           string          `json:"patch_id"`
	AssemblyName      string          `json:"assembly_name"`
	SourcePath        string          `json:"source_path"`
	SourceHash        string          `json:"source_hash"`
	PatchImagePath    string          `json:"patch_image_path"`
	RuntimeModuleUUID string          `json:"runtime_module_uuid"`
	TokenPairs        []plan.TokenPair `json:"token_pairs"`
	UTCTimestamp      time.Time       `json:"utc_timestamp"`
}

// key is the (source_path, assembly_name) identity records are keyed
// by: one record per (source_path, assembly); prior records for the
// same pair are deleted.
type key struct {
	SourcePath   string
	AssemblyName string
}

// HashSource computes the content hash compared against on replay,
// using the same sha256+base64 convention as the change classifier's
// structural signature hash.
func HashSource(sourceText string) string {
	sum := sha256.Sum256([]byte(sourceText))
	return base64.StdEncoding.EncodeToString(sum[:])
}
