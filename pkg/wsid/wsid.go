// Package wsid generates and validates worksheet identifiers.
//
// A worksheet ID has the form ws_<YYYYMMDD>_<6 lowercase hex>, where the
// date portion is the UTC date at generation time and the suffix carries
// 24 bits of cryptographic randomness. The ID is the sole join key between
// metadata, the pending list, artifact storage and published output.
package wsid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

var idPattern = regexp.MustCompile(`^ws_\d{8}_[0-9a-f]{6}$`)

// New mints a fresh worksheet ID from the current UTC date and a random
// 3-byte suffix.
func New() string {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("wsid: reading random bytes: %v", err))
	}
	return fmt.Sprintf("ws_%s_%s", time.Now().UTC().Format("20060102"), hex.EncodeToString(buf[:]))
}

// Valid reports whether s is a well-formed worksheet ID.
func Valid(s string) bool {
	return idPattern.MatchString(s)
}
