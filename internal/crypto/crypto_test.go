package crypto

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyAuthRoundTrip(t *testing.T) {
	auth := &ProxyAuth{Secret: "shared"}
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"order_id":"o1","hashrate":95.5}`)

	sig := auth.Sign(ts, body)
	require.NoError(t, auth.Verify(ts, sig, body, now))
}

func TestProxyAuthRejectsTamperedBody(t *testing.T) {
	auth := &ProxyAuth{Secret: "shared"}
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)

	sig := auth.Sign(ts, []byte(`{"hashrate":95.5}`))
	err := auth.Verify(ts, sig, []byte(`{"hashrate":9000}`), now)
	assert.Error(t, err)
}

func TestProxyAuthRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{}`)

	sig := (&ProxyAuth{Secret: "a"}).Sign(ts, body)
	err := (&ProxyAuth{Secret: "b"}).Verify(ts, sig, body, now)
	assert.Error(t, err)
}

func TestProxyAuthRejectsStaleTimestamp(t *testing.T) {
	auth := &ProxyAuth{Secret: "shared"}
	now := time.Now()
	stale := now.Add(-10 * time.Minute)
	ts := strconv.FormatInt(stale.Unix(), 10)
	body := []byte(`{}`)

	sig := auth.Sign(ts, body)
	err := auth.Verify(ts, sig, body, now)
	assert.Error(t, err)
}

func TestHashAPIKeyVerify(t *testing.T) {
	encoded, err := HashAPIKey("super-secret-admin-key")
	require.NoError(t, err)

	assert.True(t, VerifyAPIKey("super-secret-admin-key", encoded))
	assert.False(t, VerifyAPIKey("wrong-key", encoded))
	assert.False(t, VerifyAPIKey("super-secret-admin-key", "garbage"))
	assert.False(t, VerifyAPIKey("super-secret-admin-key", "pbkdf2$no$good"))
}

func TestHashAPIKeyEmptyRejected(t *testing.T) {
	_, err := HashAPIKey("")
	assert.Error(t, err)
}
