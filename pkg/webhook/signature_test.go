package webhook

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignFormat(t *testing.T) {
	header := Sign("shhh", time.Unix(1_700_000_000, 0), []byte(`{"id":"e1"}`))
	assert.Regexp(t, regexp.MustCompile(`^t=1700000000,v1=[0-9a-f]{64}$`), header)
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	body := []byte(`{"id":"e1","type":"mission.completed"}`)
	now := time.Unix(1_700_000_000, 0)

	header := Sign("shhh", now, body)
	require.NoError(t, verifyAt("shhh", header, body, 5*time.Minute, now))

	// Still fresh just inside the tolerance window.
	require.NoError(t, verifyAt("shhh", header, body, 5*time.Minute, now.Add(4*time.Minute)))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	body := []byte(`{"amount":10}`)
	now := time.Unix(1_700_000_000, 0)
	header := Sign("shhh", now, body)

	err := verifyAt("shhh", header, []byte(`{"amount":9999}`), 5*time.Minute, now)
	require.ErrorIs(t, err, ErrSignatureInvalid)

	err = verifyAt("wrong-secret", header, body, 5*time.Minute, now)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifySignatureStale(t *testing.T) {
	body := []byte(`{}`)
	signed := time.Unix(1_700_000_000, 0)
	header := Sign("shhh", signed, body)

	err := verifyAt("shhh", header, body, 5*time.Minute, signed.Add(6*time.Minute))
	require.ErrorIs(t, err, ErrSignatureStale)
}

func TestVerifySignatureMalformedHeaders(t *testing.T) {
	body := []byte(`{}`)
	now := time.Unix(1_700_000_000, 0)

	headers := []string{
		"",
		"t=1700000000",
		"v1=" + digest("shhh", "1700000000", body),
		"garbage",
		// Correctly signed but non-numeric timestamp.
		fmt.Sprintf("t=soon,v1=%s", digest("shhh", "soon", body)),
	}
	for _, header := range headers {
		err := verifyAt("shhh", header, body, 5*time.Minute, now)
		assert.ErrorIs(t, err, ErrSignatureInvalid, "header %q", header)
	}
}
