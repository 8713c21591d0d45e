// Package webhook fans domain events out to subscriber endpoints with
// at-least-once delivery through the webhooks task queue, HMAC-signed
// request bodies, and per-endpoint delivery history.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the delivery signature on every webhook POST.
const SignatureHeader = "X-Webhook-Signature"

// Signature verification failures. ErrSignatureStale means the header was
// well-formed and may even match, but its timestamp is outside tolerance.
var (
	ErrSignatureInvalid = errors.New("webhook signature mismatch")
	ErrSignatureStale   = errors.New("webhook signature timestamp outside tolerance")
)

// Sign computes the signature header value for body sent at t. The signed
// string is "<unix-seconds>.<body>" keyed with the endpoint secret:
//
//	t=1712345678,v1=5257a86...
func Sign(secret string, t time.Time, body []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, digest(secret, ts, body))
}

// VerifySignature checks a received header against body. Tolerance bounds
// how old the signed timestamp may be; the digest compare is constant
// time either way.
func VerifySignature(secret, header string, body []byte, tolerance time.Duration) error {
	return verifyAt(secret, header, body, tolerance, time.Now().UTC())
}

func verifyAt(secret, header string, body []byte, tolerance time.Duration, now time.Time) error {
	ts, theirs, err := parseHeader(header)
	if err != nil {
		return err
	}

	ours := digest(secret, ts, body)
	if !hmac.Equal([]byte(ours), []byte(theirs)) {
		return ErrSignatureInvalid
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrSignatureInvalid, ts)
	}
	if now.Sub(time.Unix(sec, 0)) > tolerance {
		return ErrSignatureStale
	}
	return nil
}

func parseHeader(header string) (ts, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return "", "", fmt.Errorf("%w: malformed header", ErrSignatureInvalid)
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return "", "", fmt.Errorf("%w: header missing t or v1", ErrSignatureInvalid)
	}
	return ts, v1, nil
}

func digest(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
