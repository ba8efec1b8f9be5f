package shopify

import (
	"errors"
	"net/mail"
	"testing"
)

func TestDecodeOrder(t *testing.T) {
	order, err := DecodeOrder([]byte(`{"order_number":"1","customer":{"email":"a@b.com","first_name":"John","last_name":"Doe"},"total_price":"10.00"}`))
	if err != nil {
		t.Fatalf("DecodeOrder() error = %v", err)
	}
	if order.OrderNumber != "1" {
		t.Errorf("OrderNumber = %q, want 1", order.OrderNumber)
	}
	if got := order.Recipient(); got != `"John Doe" <a@b.com>` {
		t.Errorf("Recipient() = %q", got)
	}
	if order.Raw["total_price"] != "10.00" {
		t.Errorf("raw payload missing extra field: %v", order.Raw)
	}
}

func TestDecodeOrderNumberForms(t *testing.T) {
	tests := map[string]struct {
		body string
		want OrderNumber
	}{
		"integer": {body: `{"order_number":1001,"customer":{"email":"a@b.com"}}`, want: "1001"},
		"string":  {body: `{"order_number":"1001","customer":{"email":"a@b.com"}}`, want: "1001"},
		"large":   {body: `{"order_number":9007199254740993,"customer":{"email":"a@b.com"}}`, want: "9007199254740993"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			order, err := DecodeOrder([]byte(tc.body))
			if err != nil {
				t.Fatalf("DecodeOrder() error = %v", err)
			}
			if order.OrderNumber != tc.want {
				t.Errorf("OrderNumber = %q, want %q", order.OrderNumber, tc.want)
			}
		})
	}
}

func TestDecodeOrderRejects(t *testing.T) {
	tests := map[string]string{
		"not json":         `{`,
		"missing number":   `{"customer":{"email":"a@b.com"}}`,
		"missing customer": `{"order_number":"1"}`,
		"bad email":        `{"order_number":"1","customer":{"email":"nope"}}`,
		"null number":      `{"order_number":null,"customer":{"email":"a@b.com"}}`,
		"boolean number":   `{"order_number":true,"customer":{"email":"a@b.com"}}`,
		"object number":    `{"order_number":{},"customer":{"email":"a@b.com"}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOrder([]byte(body))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("DecodeOrder() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestRecipientWithoutName(t *testing.T) {
	o := OrderWebhook{Customer: Customer{Email: "a@b.com"}}
	if got := o.Recipient(); got != "a@b.com" {
		t.Errorf("Recipient() = %q, want bare address", got)
	}
}

func TestRecipientQuotesDisplayName(t *testing.T) {
	tests := []struct {
		first, last string
		wantName    string
	}{
		{first: "John", last: "Doe, Jr.", wantName: "John Doe, Jr."},
		{first: `Jane "JJ"`, last: "Doe", wantName: `Jane "JJ" Doe`},
		{first: "Ann", last: "<Smith>", wantName: "Ann <Smith>"},
		{first: "José", last: "Müller", wantName: "José Müller"},
	}
	for _, tc := range tests {
		t.Run(tc.wantName, func(t *testing.T) {
			o := OrderWebhook{Customer: Customer{Email: "a@b.com", FirstName: tc.first, LastName: tc.last}}
			addr, err := mail.ParseAddress(o.Recipient())
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", o.Recipient(), err)
			}
			if addr.Name != tc.wantName || addr.Address != "a@b.com" {
				t.Errorf("parsed %q <%s>, want %q <a@b.com>", addr.Name, addr.Address, tc.wantName)
			}
		})
	}
}
