package shopify

import (
	"encoding/base64"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("test-secret-key")
	body := []byte(`{"order_number":"1"}`)

	hexSig := encodeSignature(body, secret, EncodingHex)
	b64Sig := encodeSignature(body, secret, EncodingBase64)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    []byte
		enc       SignatureEncoding
		want      bool
	}{
		{"valid hex", body, hexSig, secret, EncodingHex, true},
		{"valid base64", body, b64Sig, secret, EncodingBase64, true},
		{"hex signature under base64 encoding", body, hexSig, secret, EncodingBase64, false},
		{"wrong signature", body, "0000000000000000000000000000000000000000000000000000000000000000", secret, EncodingHex, false},
		{"tampered body", []byte(`{"order_number":"2"}`), hexSig, secret, EncodingHex, false},
		{"wrong secret", body, hexSig, []byte("wrong-secret"), EncodingHex, false},
		{"empty signature", body, "", secret, EncodingHex, false},
		{"empty secret", body, hexSig, nil, EncodingHex, false},
		{"malformed hex", body, "not-valid-hex", secret, EncodingHex, false},
		{"malformed base64", body, "%%%", secret, EncodingBase64, false},
		{"secret as signature", body, string(secret), secret, EncodingHex, false},
		{"truncated digest", body, hexSig[:32], secret, EncodingHex, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verifySignature(tt.body, tt.signature, tt.secret, tt.enc); got != tt.want {
				t.Errorf("verifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeSignatureBase64RoundTrip(t *testing.T) {
	sig := encodeSignature([]byte("body"), []byte("k"), EncodingBase64)
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatalf("signature is not base64: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("digest length = %d, want 32", len(raw))
	}
}

func TestParseSignatureEncoding(t *testing.T) {
	for in, want := range map[string]SignatureEncoding{"": EncodingHex, "hex": EncodingHex, "BASE64": EncodingBase64} {
		got, err := ParseSignatureEncoding(in)
		if err != nil || got != want {
			t.Errorf("ParseSignatureEncoding(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseSignatureEncoding("base32"); err == nil {
		t.Error("expected error for base32")
	}
}
