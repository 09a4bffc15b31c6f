package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the HMAC the provider computes over the request
const SignatureHeader = "X-Twilio-Signature"

// Validator verifies webhook signatures using the account auth token.
// The signature covers the exact externally-visible URL plus the form
// parameters sorted by name, so both webhooks share this primitive.
type Validator struct {
	authToken string
}

// NewValidator creates a signature validator for the given auth token
func NewValidator(authToken string) *Validator {
	return &Validator{authToken: authToken}
}

// Sign computes the expected signature for a URL and form parameters
func (v *Validator) Sign(rawURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(rawURL)
	for _, k := range keys {
		for _, val := range params[k] {
			b.WriteString(k)
			b.WriteString(val)
		}
	}

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Validate checks a received signature against the expected one
func (v *Validator) Validate(rawURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := v.Sign(rawURL, params)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// RequestURL reconstructs the externally-visible URL of a request.
// Proxies rewrite scheme and host, but the provider signed the original,
// so forwarded headers take precedence over what the socket saw.
func RequestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}

	return scheme + "://" + host + r.URL.RequestURI()
}
