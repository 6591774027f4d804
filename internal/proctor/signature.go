package proctor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Decoded API keys must fall inside this range.
const (
	minAPIKeyBytes = 16
	maxAPIKeyBytes = 256
)

var validate = validator.New()

// Sign computes the request signature the vendor recomputes on its side:
// HMAC-SHA256 over appID + method + lower(urlencode(uri)) + timestamp + nonce,
// keyed with the decoded API key, returned as standard base64.
//
// requestURI must be absolute and carry no query string, so the signature
// does not depend on parameter order.
func Sign(requestURI, method string, timestamp int64, nonce, apiKey, appID string) (string, error) {
	if err := checkSignatureURI(requestURI); err != nil {
		return "", err
	}
	if len(method) < 3 {
		return "", invalid("method", "must be at least 3 characters")
	}
	if timestamp < 0 {
		return "", invalid("timestamp", "must not be negative")
	}
	if nonce == "" {
		return "", invalid("nonce", "must not be empty")
	}
	key, err := decodeAPIKey(apiKey)
	if err != nil {
		return "", err
	}
	if !isGUID(appID) {
		return "", invalid("appid", "must be a GUID")
	}

	canonical := appID + method + strings.ToLower(phpURLEncode(requestURI)) + strconv.FormatInt(timestamp, 10) + nonce

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// AuthorizationHeader formats the value of the Authorization header.
func AuthorizationHeader(appID, signature, nonce string, timestamp int64) string {
	return fmt.Sprintf("amx %s:%s:%s:%d", appID, signature, nonce, timestamp)
}

// newNonce is the unix seconds followed by the six-digit microsecond part.
func newNonce(now time.Time) string {
	return strconv.FormatInt(now.Unix(), 10) + fmt.Sprintf("%06d", now.Nanosecond()/int(time.Microsecond))
}

// phpURLEncode matches PHP's urlencode: like QueryEscape, except that "~" is
// escaped too.
func phpURLEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "~", "%7E")
}

func checkSignatureURI(requestURI string) error {
	if strings.ContainsAny(requestURI, "?#") {
		return invalid("uri", "must not contain a query string")
	}
	if err := validate.Var(requestURI, "required,http_url"); err != nil {
		return invalid("uri", "must be an absolute http(s) URL")
	}
	u, err := url.Parse(requestURI)
	if err != nil || u.RawQuery != "" || u.ForceQuery {
		return invalid("uri", "must not contain a query string")
	}
	return nil
}

// ValidateAPIKey checks the API key format without using it.
func ValidateAPIKey(apiKey string) error {
	_, err := decodeAPIKey(apiKey)
	return err
}

// ValidateAppID checks that appID is a canonical GUID.
func ValidateAppID(appID string) error {
	if !isGUID(appID) {
		return invalid("appid", "must be a GUID")
	}
	return nil
}

func decodeAPIKey(apiKey string) ([]byte, error) {
	if apiKey == "" || validate.Var(apiKey, "base64") != nil {
		return nil, invalid("apikey", "must be base64 encoded")
	}
	key, err := base64.StdEncoding.DecodeString(apiKey)
	if err != nil {
		return nil, invalid("apikey", "must be base64 encoded")
	}
	if len(key) < minAPIKeyBytes || len(key) > maxAPIKeyBytes {
		return nil, invalid("apikey", fmt.Sprintf("must decode to %d-%d bytes", minAPIKeyBytes, maxAPIKeyBytes))
	}
	return key, nil
}

// isGUID accepts only the 36 character hyphenated form.
func isGUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
