package shopify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload is returned when a webhook body cannot be decoded or
// lacks the fields every order notification needs.
var ErrInvalidPayload = errors.New("invalid order payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Customer is the subset of the Shopify customer object used for addressing.
type Customer struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// OrderNumber is the customer-facing order number. Shopify sends it as a
// JSON integer; a string is accepted too.
type OrderNumber string

func (n *OrderNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = OrderNumber(s)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("order_number must be a string or number: %w", err)
	}
	*n = OrderNumber(num.String())
	return nil
}

// OrderWebhook is the typed view of an orders/* webhook body.
type OrderWebhook struct {
	OrderNumber OrderNumber `json:"order_number" validate:"required"`
	Customer    Customer    `json:"customer" validate:"required"`
}

// Order pairs the validated typed fields with the full decoded payload so
// templates can reference any upstream field.
type Order struct {
	OrderWebhook
	Raw map[string]any
}

// DecodeOrder parses and validates a webhook body.
func DecodeOrder(body []byte) (*Order, error) {
	var typed OrderWebhook
	if err := json.Unmarshal(body, &typed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(typed); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, describeValidation(err))
	}

	raw := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return &Order{OrderWebhook: typed, Raw: raw}, nil
}

// Recipient formats the customer as an RFC 5322 address with the full name
// as display name, or the bare address when no name is present.
func (o *OrderWebhook) Recipient() string {
	name := strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
	if name == "" {
		return o.Customer.Email
	}
	return (&mail.Address{Name: name, Address: o.Customer.Email}).String()
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(fields, "; ")
}
