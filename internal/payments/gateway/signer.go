// Package gateway builds signed payment URLs for the hosted payment gateway
// and reconciles its return and IPN callbacks with order state.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
)

// Signer computes and checks the HMAC-SHA512 signature carried in
// vnp_SecureHash.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// CanonicalQuery renders the signed parameters: keys sorted, empty values and
// the hash fields dropped, keys and values query-escaped.
func CanonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == paramSecureHash || key == paramSecureHashType {
			continue
		}
		if params.Get(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(key)))
	}
	return b.String()
}

// Sign returns the lowercase hex signature of params.
func (s *Signer) Sign(params url.Values) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(CanonicalQuery(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether params carry a valid signature. Comparison is
// constant time and case-insensitive on the hex digest.
func (s *Signer) Verify(params url.Values) bool {
	got := strings.ToLower(strings.TrimSpace(params.Get(paramSecureHash)))
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(s.Sign(params)))
}
