// Package server exposes the order webhook endpoints over HTTP.
//
// # Routes
//
//	POST /api/order/create     order_created notification
//	POST /api/order/cancel     order_cancelled notification
//	POST /api/order/fulfilled  order_fulfilled notification with PDF invoice
//	GET  /health               liveness
//	GET  /ready                store reachability
//	GET  /metrics              prometheus metrics (when enabled)
//
// # Request Flow
//
//  1. Body read up to max_body_size (413 if larger)
//  2. Shopify headers verified in order, HMAC-SHA256 over the raw body (400 on failure)
//  3. Payload decoded and validated (422 on failure)
//  4. Event claimed in the ledger; a known event returns 200 "duplicate"
//  5. Templates rendered, invoice PDF built for fulfilled orders, email sent
//  6. Event recorded; 200 "sent" returned with the event id
//
// Downstream failures return a generic 500; the cause is logged with the
// request id. Request logging never includes bodies or header values.
package server
