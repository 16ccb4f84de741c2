package storage

import (
	"math/big"

	"github.com/google/uuid"
)

// UIDRoot is the PS3.5 root for UUID-derived UIDs.
const UIDRoot = "2.25."

// NewUID generates a globally unique DICOM UID from a random UUID, written
// as the UUID's 128-bit value in decimal under the 2.25 root.
func NewUID() string {
	id := uuid.New()
	return UIDRoot + new(big.Int).SetBytes(id[:]).String()
}
