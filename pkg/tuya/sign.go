package tuya

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// EmptyBodyDigest is the content digest the platform expects for requests
// without a body. It is a fixed protocol constant; requests with a body use
// the SHA-256 of the exact bytes sent.
const EmptyBodyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// SignMethod is the value of the sign_method header.
const SignMethod = "HMAC-SHA256"

// ContentDigest returns the lowercase hex SHA-256 of body, or EmptyBodyDigest
// when there is no body at all.
func ContentDigest(body []byte) string {
	if body == nil {
		return EmptyBodyDigest
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SerializeHeaders renders the signed headers as name:value\n lines sorted by
// name. An empty set renders as the empty string.
func SerializeHeaders(headers map[string]string) string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(headers[name])
		b.WriteByte('\n')
	}
	return b.String()
}

// StringToSign builds the canonical request representation:
//
//	METHOD \n content-sha256 \n signed-headers \n path
//
// path must include the query string exactly as it is sent.
func StringToSign(method string, body []byte, signedHeaders map[string]string, path string) string {
	return method + "\n" + ContentDigest(body) + "\n" + SerializeHeaders(signedHeaders) + "\n" + path
}

// Signer computes request signatures for one client id/secret pair. The secret
// is only ever used as the HMAC key.
type Signer struct {
	ClientID string
	Secret   string
}

// Sign signs a token acquisition request:
// HMAC-SHA256(clientID + t + stringToSign).
func (s Signer) Sign(timestamp, stringToSign string) string {
	return s.mac(s.ClientID + timestamp + stringToSign)
}

// SignWithToken signs a business API request:
// HMAC-SHA256(clientID + accessToken + t + stringToSign).
func (s Signer) SignWithToken(accessToken, timestamp, stringToSign string) string {
	return s.mac(s.ClientID + accessToken + timestamp + stringToSign)
}

// mac returns the upper-case hex HMAC-SHA256 of payload, always 64 characters.
func (s Signer) mac(payload string) string {
	h := hmac.New(sha256.New, []byte(s.Secret))
	h.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}
