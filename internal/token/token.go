// Package token issues and checks the opaque guest tokens carried by QR codes.
//
// A token is the canonical string form of a random (version 4) UUID. It is
// not a credential: possession only identifies which guest is at the door.
package token

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// Length of every token Generate returns.
	Length = 36

	// Bounds of the textual UUID forms uuid.Parse accepts: bare hex (32),
	// canonical (36), braced (38) and urn:uuid: prefixed (45).
	minScanLength = 32
	maxScanLength = 45
)

// Generate returns a fresh token. Uniqueness is enforced by the store.
func Generate() string {
	return uuid.New().String()
}

// Normalize reports whether raw could be a token and returns its canonical
// form. It rejects garbage scans before they reach the store.
func Normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < minScanLength || len(raw) > maxScanLength {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
