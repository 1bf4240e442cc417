package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
)

// IdentityKey is the deterministic patient key: exact name, date of birth and
// sex after whitespace normalization. Any differing field yields a new key.
func IdentityKey(name, dob, sex string) string {
	parts := []string{normalizeField(name), normalizeField(dob), normalizeField(sex)}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func normalizeField(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsCalculated reports whether a result value is marked as derived. Only the
// text form is inspected: a string value containing "calc" in any case.
func IsCalculated(v labs.ResultValue) bool {
	return v.Kind == labs.ValueString && v.ContainsFold("calc")
}
