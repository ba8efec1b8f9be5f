// Package notify turns verified Shopify order webhooks into customer emails.
//
// Each event is processed at most once to completion: the ledger claim is
// taken before any rendering and completed only after the relay accepted
// the message.
package notify

// Flow names one kind of order notification.
type Flow string

const (
	FlowOrderCreated   Flow = "order_created"
	FlowOrderCancelled Flow = "order_cancelled"
	FlowOrderFulfilled Flow = "order_fulfilled"
)

const (
	invoiceTemplate = "invoice"
	invoiceTitle    = "invoice"
)

type flow struct {
	template string
	// subject is a format string taking the order number.
	subject string
	invoice bool
}

var flows = map[Flow]flow{
	FlowOrderCreated: {
		template: "order_created",
		subject:  "#%s: We have received your order",
	},
	FlowOrderCancelled: {
		template: "order_cancelled",
		subject:  "#%s: Your order has been cancelled",
	},
	FlowOrderFulfilled: {
		template: "order_fulfilled",
		subject:  "#%s: Your order has been fulfilled",
		invoice:  true,
	},
}

// Flows lists every supported flow.
func Flows() []Flow {
	return []Flow{FlowOrderCreated, FlowOrderCancelled, FlowOrderFulfilled}
}
