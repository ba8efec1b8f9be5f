package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignatureEncoding selects how the HMAC digest is written in the
// X-Shopify-Hmac-Sha256 header.
type SignatureEncoding string

const (
	EncodingHex    SignatureEncoding = "hex"
	EncodingBase64 SignatureEncoding = "base64"
)

// ParseSignatureEncoding maps a config value to a SignatureEncoding.
func ParseSignatureEncoding(s string) (SignatureEncoding, error) {
	switch enc := SignatureEncoding(strings.ToLower(strings.TrimSpace(s))); enc {
	case "", EncodingHex:
		return EncodingHex, nil
	case EncodingBase64:
		return EncodingBase64, nil
	default:
		return "", fmt.Errorf("unknown signature encoding %q", s)
	}
}

// verifySignature checks an HMAC-SHA256 signature against the raw body.
//
// Comparison is constant-time. A signature that cannot be decoded is treated
// the same as a wrong one.
func verifySignature(body []byte, signature string, secret []byte, enc SignatureEncoding) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}

	actualMAC, err := decodeSignature(signature, enc)
	if err != nil {
		return false
	}
	return hmac.Equal(computeMAC(body, secret), actualMAC)
}

func decodeSignature(signature string, enc SignatureEncoding) ([]byte, error) {
	if enc == EncodingBase64 {
		return base64.StdEncoding.DecodeString(signature)
	}
	return hex.DecodeString(signature)
}

func computeMAC(body, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// encodeSignature computes the header value for body.
func encodeSignature(body, secret []byte, enc SignatureEncoding) string {
	sum := computeMAC(body, secret)
	if enc == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}
