package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// hrefPattern matches absolute http(s) links in an HTML body
var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

var (
	ErrBadSignature = errors.New("invalid tracking signature")
	ErrBadPayload   = errors.New("malformed tracking payload")
	ErrBadScheme    = errors.New("redirect scheme not allowed")
	ErrBadHost      = errors.New("redirect host not allowed")
)

// Config contains link signing settings
type Config struct {
	PublicBaseURL  string
	Secret         string
	LinkExpiration time.Duration
	AllowedDomains []string
}

// Signer rewrites outbound links into signed, expiring redirect URLs
// and validates inbound click requests. The signature is the sole
// trust anchor: tracking endpoints serve anonymous recipients without
// a session.
type Signer struct {
	cfg Config

	// now is swappable for tests
	now func() time.Time
}

// NewSigner creates a link signer
func NewSigner(cfg Config) *Signer {
	return &Signer{cfg: cfg, now: time.Now}
}

// BaseURL returns the public base URL used as the safe redirect
// fallback.
func (s *Signer) BaseURL() string {
	return s.cfg.PublicBaseURL
}

// PixelURL returns the open-tracking pixel URL for a delivery log.
func (s *Signer) PixelURL(logID int64) string {
	return fmt.Sprintf("%s/track/open/%d/pixel.gif", s.cfg.PublicBaseURL, logID)
}

// ClickURL returns the signed redirect URL for an original link.
// Expiry is embedded in the payload, not derived from request time, so
// validity is self-contained.
func (s *Signer) ClickURL(logID int64, originalURL string) string {
	expiresAt := s.now().Add(s.cfg.LinkExpiration).UnixMilli()
	payload := base64.RawURLEncoding.EncodeToString(
		[]byte(originalURL + "|" + strconv.FormatInt(expiresAt, 10)))
	sig := s.Sign(payload)
	return fmt.Sprintf("%s/track/click/%d?p=%s&sig=%s", s.cfg.PublicBaseURL, logID, payload, sig)
}

// RewriteLinks rewrites every absolute http(s) href in the body into a
// signed redirect, leaving preference and already-tracked links alone.
func (s *Signer) RewriteLinks(logID int64, html string) string {
	return hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
		original := hrefPattern.FindStringSubmatch(match)[1]
		if strings.Contains(original, "/preferences") || strings.Contains(original, "/track/click/") {
			return match
		}
		return `href="` + s.ClickURL(logID, original) + `"`
	})
}

// Sign computes the URL-safe HMAC-SHA256 signature over the encoded
// payload.
func (s *Signer) Sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ClickResult is the outcome of validating a click request
type ClickResult struct {
	// RedirectURL is always set; on any validation failure it falls
	// back to the public base URL, never an attacker-supplied value.
	RedirectURL string
	// Record reports whether the click counts as a fresh engagement
	// signal. Expired links still redirect but are not recorded.
	Record bool
}

// ValidateClick checks the signature and payload of a click request
// and decides where to redirect. The returned error describes why
// validation failed; callers redirect to RedirectURL regardless, since
// the anonymous recipient cannot act on an error page.
func (s *Signer) ValidateClick(encodedPayload, signature string) (ClickResult, error) {
	fallback := ClickResult{RedirectURL: s.cfg.PublicBaseURL}

	expected := s.Sign(encodedPayload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fallback, ErrBadSignature
	}

	decoded, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return fallback, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	idx := strings.LastIndex(string(decoded), "|")
	if idx < 0 {
		return fallback, ErrBadPayload
	}
	originalURL := string(decoded[:idx])
	expiresAt, err := strconv.ParseInt(string(decoded[idx+1:]), 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("%w: bad expiry", ErrBadPayload)
	}

	if !strings.HasPrefix(originalURL, "http://") && !strings.HasPrefix(originalURL, "https://") {
		return fallback, ErrBadScheme
	}

	if len(s.cfg.AllowedDomains) > 0 {
		u, err := url.Parse(originalURL)
		if err != nil {
			return fallback, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if !s.hostAllowed(u.Hostname()) {
			return fallback, ErrBadHost
		}
	}

	if s.now().UnixMilli() > expiresAt {
		// Past expiry the link still works for the recipient, it just
		// no longer counts as engagement.
		return ClickResult{RedirectURL: originalURL, Record: false}, nil
	}

	return ClickResult{RedirectURL: originalURL, Record: true}, nil
}

func (s *Signer) hostAllowed(host string) bool {
	for _, d := range s.cfg.AllowedDomains {
		if strings.EqualFold(host, d) {
			return true
		}
	}
	return false
}
