package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Signer computes OKX-style HMAC-SHA256 request and login signatures.
type Signer struct {
	apiKey     string
	secret     []byte
	passphrase string
}

// NewSigner builds a Signer from a credential triple.
func NewSigner(apiKey, secret, passphrase string) *Signer {
	return &Signer{apiKey: apiKey, secret: []byte(secret), passphrase: passphrase}
}

// sign returns base64(hmacSHA256(secret, payload)).
func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// LoginSign computes the login signature: sign = base64(hmacSHA256(secret,
// ts + "GET" + "/users/self/verify")), ts being seconds since epoch.
func (s *Signer) LoginSign(ts string) string {
	return s.sign(ts + "GET" + "/users/self/verify")
}

// RESTHeaders computes the header set for a signed REST request: the
// payload is timestamp+method+path+body, per the teacher's own REST
// signer idiom, adapted from Bitget's header scheme to OKX's header names.
func (s *Signer) RESTHeaders(ts, method, path, body string) map[string]string {
	payload := ts + method + path + body
	return map[string]string{
		"OK-ACCESS-KEY":        s.apiKey,
		"OK-ACCESS-SIGN":       s.sign(payload),
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": s.passphrase,
		"Content-Type":         "application/json",
	}
}
