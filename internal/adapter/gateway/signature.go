package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// signFieldName is the parameter carrying the signature itself; it is always
// excluded from the signed string.
const signFieldName = "sign"

// canonicalString joins the non-empty parameters as key=value pairs in key
// order, the format both sides of the gateway protocol sign.
func canonicalString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == signFieldName || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// sign computes the hex HMAC-SHA256 of the canonical parameter string.
func sign(params map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalString(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks the embedded sign field in constant time.
func verifySignature(params map[string]string, secret string) bool {
	provided := params[signFieldName]
	if provided == "" {
		return false
	}
	expected := sign(params, secret)
	return hmac.Equal([]byte(provided), []byte(expected))
}
