// Package signing implements the HMAC scheme the dispatch router uses to
// authenticate its calls to the conversion executors. HMAC is easy in Go
// thanks to the standard library crypto packages.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried on signed dispatch requests.
const (
	HeaderTimestamp = "X-Dispatch-Timestamp"
	HeaderSignature = "X-Dispatch-Signature"
)

// DefaultSkew is how far a request timestamp may drift from the verifier's
// clock.
const DefaultSkew = 5 * time.Minute

// Signer generates and validates HMAC based signatures. A Signer with an empty
// secret is disabled: it adds no headers and accepts every request.
type Signer struct {
	secret []byte
	skew   time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, skew: DefaultSkew, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Sign returns the hex signature for a job id, a unix timestamp and the
// request body.
func (s *Signer) Sign(jobID string, unix int64, body []byte) string {
	digest := sha256.Sum256(body)
	mac := hmac.New(sha256.New, s.secret)
	// the canonical payload fixes the field order
	payload := fmt.Sprintf("%s:%d:%s", jobID, unix, hex.EncodeToString(digest[:]))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one and rejects
// timestamps outside the allowed skew.
func (s *Signer) Validate(jobID, timestamp string, body []byte, signature string) bool {
	if !s.Enabled() {
		return true
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	drift := s.now().Sub(time.Unix(unix, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > s.skew {
		return false
	}
	expected := s.Sign(jobID, unix, body)
	// hmac.Equal performs constant-time comparison to avoid timing attacks.
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignRequest stamps req with the timestamp and signature headers.
func (s *Signer) SignRequest(req *http.Request, jobID string, body []byte) {
	if !s.Enabled() {
		return
	}
	unix := s.now().Unix()
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(unix, 10))
	req.Header.Set(HeaderSignature, s.Sign(jobID, unix, body))
}

// VerifyRequest checks the headers set by SignRequest.
func (s *Signer) VerifyRequest(req *http.Request, jobID string, body []byte) bool {
	return s.Validate(jobID, req.Header.Get(HeaderTimestamp), body, req.Header.Get(HeaderSignature))
}
