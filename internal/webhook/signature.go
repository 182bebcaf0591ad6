package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// signatureTolerance bounds how stale a signed timestamp may be before the
// request is rejected as a replay.
const signatureTolerance = 5 * time.Minute

// ComputeSignature signs a webhook delivery with the tenant's secret. The
// signed input is the timestamp header joined to the raw body with a dot,
// so neither can be swapped independently.
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a provided signature in constant time. A
// "sha256=" prefix on the provided value is accepted.
func VerifySignature(secret, timestamp string, body []byte, provided string) bool {
	provided = strings.TrimPrefix(provided, "sha256=")
	expected := ComputeSignature(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// TimestampFresh reports whether the signed unix timestamp is within
// tolerance of now.
func TimestampFresh(timestamp string, now time.Time) bool {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	at := time.Unix(unix, 0)
	drift := now.Sub(at)
	if drift < 0 {
		drift = -drift
	}
	return drift <= signatureTolerance
}
