package models

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// NewOpID returns a fresh lower-case operation id
func NewOpID() string {
	return uuid.New().String()
}

// BoulderCombinationExerciseLinkID derives the id of a combination/exercise link.
//
// Wire contract shared by every client: SHA-256 over the UTF-8 bytes of
// "<combinationID>:<exerciseID>" (both lower-cased and trimmed), keep the first
// 16 bytes, set the version nibble to 5 and the RFC 4122 variant bits, and
// render in the canonical lower-case 8-4-4-4-12 form.
func BoulderCombinationExerciseLinkID(combinationID, exerciseID string) string {
	sum := sha256.Sum256([]byte(NormalizeID(combinationID) + ":" + NormalizeID(exerciseID)))

	var b [16]byte
	copy(b[:], sum[:16])
	b[6] = (b[6] & 0x0f) | 0x50
	b[8] = (b[8] & 0x3f) | 0x80

	id, err := uuid.FromBytes(b[:])
	if err != nil {
		// FromBytes only fails on a wrong length
		panic(err)
	}
	return id.String()
}
