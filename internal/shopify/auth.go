package shopify

import (
	"mime"
	"net/http"
)

// Header names sent by Shopify on every webhook delivery.
const (
	HeaderTopic       = "X-Shopify-Topic"
	HeaderWebhookID   = "X-Shopify-Webhook-Id"
	HeaderEventID     = "X-Shopify-Event-Id"
	HeaderShopDomain  = "X-Shopify-Shop-Domain"
	HeaderHmac        = "X-Shopify-Hmac-Sha256"
	HeaderAPIVersion  = "X-Shopify-Api-Version"
	HeaderContentType = "Content-Type"
)

// Code identifies which header failed verification and how.
type Code string

const (
	CodeMissingTopic         Code = "missing_topic"
	CodeMissingWebhookID     Code = "missing_webhook_id"
	CodeMissingEventID       Code = "missing_event_id"
	CodeMissingContentType   Code = "missing_content_type"
	CodeIncorrectContentType Code = "incorrect_content_type"
	CodeMissingShopDomain    Code = "missing_shop_domain"
	CodeIncorrectShopDomain  Code = "incorrect_shop_domain"
	CodeMissingHmac          Code = "missing_hmac"
	CodeIncorrectHmac        Code = "incorrect_hmac"
	CodeMissingAPIVersion    Code = "missing_api_version"
	CodeIncorrectAPIVersion  Code = "incorrect_api_version"
)

// AuthError reports the first header that failed verification.
type AuthError struct {
	Code   Code
	Header string
}

func (e *AuthError) Error() string {
	if e.Missing() {
		return e.Header + " header is missing"
	}
	return e.Header + " header is incorrect"
}

// Missing reports whether the header was absent rather than wrong.
func (e *AuthError) Missing() bool {
	switch e.Code {
	case CodeMissingTopic, CodeMissingWebhookID, CodeMissingEventID, CodeMissingContentType,
		CodeMissingShopDomain, CodeMissingHmac, CodeMissingAPIVersion:
		return true
	}
	return false
}

// AuthConfig is the immutable set of values every webhook is checked against.
type AuthConfig struct {
	ShopDomain        string
	WebhookSecret     string
	APIVersion        string
	SignatureEncoding SignatureEncoding
}

// Authenticator verifies that a webhook originates from the configured shop.
// It holds no mutable state and is safe for concurrent use.
type Authenticator struct {
	shopDomain string
	apiVersion string
	secret     []byte
	encoding   SignatureEncoding
}

// NewAuthenticator builds an Authenticator from cfg.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	enc := cfg.SignatureEncoding
	if enc == "" {
		enc = EncodingHex
	}
	return &Authenticator{
		shopDomain: cfg.ShopDomain,
		apiVersion: cfg.APIVersion,
		secret:     []byte(cfg.WebhookSecret),
		encoding:   enc,
	}
}

// Verify checks the webhook headers in a fixed order and returns an
// *AuthError for the first one that is missing or wrong.
func (a *Authenticator) Verify(headers http.Header, body []byte) error {
	if headers.Get(HeaderTopic) == "" {
		return &AuthError{Code: CodeMissingTopic, Header: HeaderTopic}
	}
	if headers.Get(HeaderWebhookID) == "" {
		return &AuthError{Code: CodeMissingWebhookID, Header: HeaderWebhookID}
	}
	if headers.Get(HeaderEventID) == "" {
		return &AuthError{Code: CodeMissingEventID, Header: HeaderEventID}
	}

	contentType := headers.Get(HeaderContentType)
	if contentType == "" {
		return &AuthError{Code: CodeMissingContentType, Header: HeaderContentType}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "application/json" {
		return &AuthError{Code: CodeIncorrectContentType, Header: HeaderContentType}
	}

	shopDomain := headers.Get(HeaderShopDomain)
	if shopDomain == "" {
		return &AuthError{Code: CodeMissingShopDomain, Header: HeaderShopDomain}
	}
	if shopDomain != a.shopDomain {
		return &AuthError{Code: CodeIncorrectShopDomain, Header: HeaderShopDomain}
	}

	signature := headers.Get(HeaderHmac)
	if signature == "" {
		return &AuthError{Code: CodeMissingHmac, Header: HeaderHmac}
	}
	if !verifySignature(body, signature, a.secret, a.encoding) {
		return &AuthError{Code: CodeIncorrectHmac, Header: HeaderHmac}
	}

	apiVersion := headers.Get(HeaderAPIVersion)
	if apiVersion == "" {
		return &AuthError{Code: CodeMissingAPIVersion, Header: HeaderAPIVersion}
	}
	if apiVersion != a.apiVersion {
		return &AuthError{Code: CodeIncorrectAPIVersion, Header: HeaderAPIVersion}
	}

	return nil
}

// Sign returns the X-Shopify-Hmac-Sha256 value Shopify would send for body.
func (a *Authenticator) Sign(body []byte) string {
	return encodeSignature(body, a.secret, a.encoding)
}
