// Package suppression answers "may we submit this address" against
// suppression sets that live in memory, Redis, or DynamoDB. All
// backends key on the MD5 of the normalized email, matching how
// suppression exports are distributed.
package suppression

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Checker is consulted during the validation phase. Suppression is
// advisory at import time: callers treat backend errors as
// "not suppressed" and log them rather than failing the session.
type Checker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)

	// CheckBatch answers for many addresses at once; the result maps
	// each input email to its verdict.
	CheckBatch(ctx context.Context, emails []string) (map[string]bool, error)
}

type digest [16]byte

func digestOf(email string) digest {
	normalized := strings.ToLower(strings.TrimSpace(email))
	return md5.Sum([]byte(normalized))
}

func digestFromHex(hexStr string) (digest, bool) {
	var d digest
	hexStr = strings.ToLower(strings.TrimSpace(hexStr))
	if len(hexStr) != 32 {
		return d, false
	}
	if _, err := hex.Decode(d[:], []byte(hexStr)); err != nil {
		return d, false
	}
	return d, true
}

// HashEmail returns the hex MD5 of the normalized address, the member
// format shared by the Redis set and the DynamoDB table.
func HashEmail(email string) string {
	d := digestOf(email)
	return hex.EncodeToString(d[:])
}
