package attendance

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// codeAlphabet omits glyphs that are easy to misread when projected (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 5

// randomCode returns n characters drawn uniformly from codeAlphabet.
func randomCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// normalizeCode makes user-typed codes comparable with generated ones.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// uniqueSessionCode generates a code no active session is using, retrying
// inside the caller's transaction.
func uniqueSessionCode(tx Tx, n int) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := randomCode(n)
		if err != nil {
			return "", err
		}
		existing, err := tx.SessionByCode(code)
		if KindOf(err) == KindNotFound || (err == nil && !existing.IsActive) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", Conflict("could not allocate a unique session code")
}

// uniqueJoinCode generates a course join code not used by any course.
func uniqueJoinCode(tx Tx, n int) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := randomCode(n)
		if err != nil {
			return "", err
		}
		_, err = tx.CourseByJoinCode(code)
		if KindOf(err) == KindNotFound {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", Conflict("could not allocate a unique join code")
}
