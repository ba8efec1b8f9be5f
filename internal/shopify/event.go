package shopify

import "net/http"

// WebhookEvent identifies one delivery. EventID is stable across retries of
// the same event and is the idempotency key.
type WebhookEvent struct {
	EventID    string
	Topic      string
	ShopDomain string
	WebhookID  string
	APIVersion string
}

// EventFromHeaders reads the delivery identity from verified headers.
func EventFromHeaders(h http.Header) WebhookEvent {
	return WebhookEvent{
		EventID:    h.Get(HeaderEventID),
		Topic:      h.Get(HeaderTopic),
		ShopDomain: h.Get(HeaderShopDomain),
		WebhookID:  h.Get(HeaderWebhookID),
		APIVersion: h.Get(HeaderAPIVersion),
	}
}
