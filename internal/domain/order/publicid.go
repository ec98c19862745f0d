package order

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

const (
	publicIDPrefix = "ORD-"
	publicIDLen    = 10
)

var publicIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewPublicID returns an external order reference such as ORD-K3M9Q2ZT7B.
func NewPublicID() string {
	var b [7]byte // 56 bits encode to 12 base32 chars
	_, _ = rand.Read(b[:])
	return publicIDPrefix + publicIDEncoding.EncodeToString(b[:])[:publicIDLen]
}

// ValidPublicID reports whether s has the shape produced by NewPublicID.
func ValidPublicID(s string) bool {
	rest, ok := strings.CutPrefix(s, publicIDPrefix)
	if !ok || len(rest) != publicIDLen {
		return false
	}
	for _, r := range rest {
		if !(r >= 'A' && r <= 'Z' || r >= '2' && r <= '7') {
			return false
		}
	}
	return true
}
