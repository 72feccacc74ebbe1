package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashActor lets a Log redact identity material in
// its Detail text while keeping records correlatable, adapted from the
// teacher's pkg/audit/redact.go hashing helpers (same salted-SHA256
// construction, narrowed to the fields this domain's record actually
// carries).
func HashActor(actor string, salt []byte) string {
	return hashString(actor, salt)
}

func hashString(v string, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write([]byte(v))
	return hex.EncodeToString(h.Sum(nil))
}
