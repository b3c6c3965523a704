// Package crypto provides HMAC authentication for proxy telemetry callbacks
// and at-rest hashing of the admin API key.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// maxTimestampSkew bounds how stale a signed proxy request may be.
const maxTimestampSkew = 5 * time.Minute

// ProxyAuth verifies signatures on telemetry callbacks from the mining proxy.
// The proxy signs timestamp+body with a shared secret; replays outside the
// skew window are rejected.
type ProxyAuth struct {
	Secret string
}

// Sign computes the hex HMAC-SHA256 signature for a timestamp and body. Used
// by tests and by any Go-based proxy client.
func (p *ProxyAuth) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.Secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign and enforces the timestamp skew
// window against now.
func (p *ProxyAuth) Verify(timestamp, signature string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: malformed timestamp %q", timestamp)
	}

	at := time.Unix(ts, 0)
	skew := now.Sub(at)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("crypto: timestamp outside allowed window")
	}

	expected := p.Sign(timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("crypto: signature mismatch")
	}
	return nil
}

// CurrentTimestamp returns the unix-seconds timestamp string used in proxy
// signatures.
func CurrentTimestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
