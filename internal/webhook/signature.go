// Package webhook authenticates and decodes payment-provider notifications.
//
// Two signature header formats are accepted:
//
//	timestamped:   t=<unix-seconds>,v1=<base64-or-hex HMAC-SHA256 of "<t>.<body>">
//	untimestamped: [<prefix>=]<hex, base64 or base64-of-hex HMAC-SHA256 of body>
//
// The untimestamped form carries no replay protection. It is only tried when
// the header lacks a t or v1 field, and results verified that way report
// SchemeUntimestamped so callers can log and count them separately.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum allowed skew between the signed timestamp
// and the verification time.
const DefaultTolerance = 300 * time.Second

// Scheme identifies which header format produced a verification result.
type Scheme string

const (
	SchemeNone          Scheme = "none"
	SchemeTimestamped   Scheme = "timestamped"
	SchemeUntimestamped Scheme = "untimestamped"
)

// Failure reasons reported in Result.Reason.
const (
	ReasonMissingHeader      = "missing_header"
	ReasonMissingSecret      = "missing_secret"
	ReasonInvalidTimestamp   = "invalid_timestamp"
	ReasonOutsideTolerance   = "timestamp_outside_tolerance"
	ReasonSignatureMismatch  = "signature_mismatch"
	ReasonMalformedSignature = "malformed_signature"
)

// Result is the outcome of a signature check. Malformed input is reported
// here as an invalid result, never as an error.
type Result struct {
	Valid  bool
	Scheme Scheme
	Reason string
}

// Verifier checks webhook signatures. The zero value uses DefaultTolerance.
type Verifier struct {
	Tolerance time.Duration
}

// NewVerifier returns a Verifier with the given replay tolerance. A
// non-positive tolerance selects DefaultTolerance.
func NewVerifier(tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{Tolerance: tolerance}
}

func (v *Verifier) tolerance() time.Duration {
	if v == nil || v.Tolerance <= 0 {
		return DefaultTolerance
	}
	return v.Tolerance
}

// Verify authenticates rawBody against header using secret. It has no side
// effects and does not retain rawBody.
func (v *Verifier) Verify(rawBody []byte, header, secret string, now time.Time) Result {
	header = strings.TrimSpace(header)
	if header == "" {
		return Result{Scheme: SchemeNone, Reason: ReasonMissingHeader}
	}
	if secret == "" {
		return Result{Scheme: SchemeNone, Reason: ReasonMissingSecret}
	}

	ts, sig, ok := parseTimestamped(header)
	if !ok {
		return verifyUntimestamped(rawBody, header, secret)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Result{Scheme: SchemeTimestamped, Reason: ReasonInvalidTimestamp}
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance() {
		return Result{Scheme: SchemeTimestamped, Reason: ReasonOutsideTolerance}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if decoded, ok := decodeBase64(sig); ok && len(decoded) == len(expected) {
		return result(SchemeTimestamped, hmac.Equal(decoded, expected))
	}

	candidate := keepHex(sig)
	if candidate == "" {
		return Result{Scheme: SchemeTimestamped, Reason: ReasonMalformedSignature}
	}
	want := hex.EncodeToString(expected)
	return result(SchemeTimestamped, hmac.Equal([]byte(candidate), []byte(want)))
}

func verifyUntimestamped(rawBody []byte, header, secret string) Result {
	sig := header
	if prefix, rest, found := strings.Cut(sig, "="); found && isPrefixName(prefix) {
		sig = rest
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	digest := mac.Sum(nil)
	hexDigest := hex.EncodeToString(digest)
	b64OfHex := base64.StdEncoding.EncodeToString([]byte(hexDigest))

	matchHex := hmac.Equal([]byte(sig), []byte(hexDigest))
	matchB64OfHex := hmac.Equal([]byte(sig), []byte(b64OfHex))
	matchB64 := false
	if decoded, ok := decodeBase64(sig); ok && len(decoded) == len(digest) {
		matchB64 = hmac.Equal(decoded, digest)
	}
	return result(SchemeUntimestamped, matchHex || matchB64OfHex || matchB64)
}

func result(scheme Scheme, ok bool) Result {
	if ok {
		return Result{Valid: true, Scheme: scheme}
	}
	return Result{Scheme: scheme, Reason: ReasonSignatureMismatch}
}

// parseTimestamped extracts t and v1 from a comma separated key=value list.
// Fields may appear in any order; unknown keys are ignored.
func parseTimestamped(header string) (ts, sig string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			if ts == "" {
				ts = value
			}
		case "v1":
			if sig == "" {
				sig = value
			}
		}
	}
	return ts, sig, ts != "" && sig != ""
}

// isPrefixName reports whether s looks like a scheme label such as "sha256"
// or "v0". The base64 form only carries '=' as trailing padding, well past
// the length limit.
func isPrefixName(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

func decodeBase64(s string) ([]byte, bool) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding.Strict(),
		base64.URLEncoding.Strict(),
		base64.RawStdEncoding.Strict(),
		base64.RawURLEncoding.Strict(),
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, true
		}
	}
	return nil, false
}

func keepHex(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
