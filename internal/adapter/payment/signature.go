package payment

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

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>". The MAC covers
// "<t>.<raw body>" so a captured signature cannot be replayed on another
// body or, past the tolerance, at a later time.
const SignatureHeader = "X-Grey-Signature"

const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrStaleSignature   = errors.New("signature timestamp outside tolerance")
)

type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewSignatureVerifier(secret string, tolerance time.Duration) (*SignatureVerifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &SignatureVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}, nil
}

func (v *SignatureVerifier) VerifyWebhook(header string, body []byte) error {
	if header == "" {
		return ErrMissingSignature
	}

	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts = n
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrMissingSignature
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return ErrStaleSignature
	}

	expected := mac(v.secret, ts, body)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrBadSignature
}

// Sign builds a signature header value for body at time at.
func Sign(secret string, at time.Time, body []byte) string {
	ts := at.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(mac([]byte(secret), ts, body))
}

func mac(secret []byte, ts int64, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}
