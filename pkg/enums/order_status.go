package enums

import "fmt"

// OrderStatus tracks invoicing for a (sale, buyer) order.
type OrderStatus string

const (
	OrderStatusOpen                OrderStatus = "OPEN"
	OrderStatusInvoiceIssued       OrderStatus = "INVOICE_ISSUED"
	OrderStatusAwaitingNextInvoice OrderStatus = "AWAITING_NEXT_INVOICE"
	OrderStatusPaid                OrderStatus = "PAID"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusOpen,
	OrderStatusInvoiceIssued,
	OrderStatusAwaitingNextInvoice,
	OrderStatusPaid,
}

// Payment is tracked apart from status: a paid order that later receives
// items moves to AWAITING_NEXT_INVOICE and stays paid.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusOpen:          {OrderStatusInvoiceIssued},
	OrderStatusInvoiceIssued: {OrderStatusPaid, OrderStatusAwaitingNextInvoice},
	OrderStatusPaid:          {OrderStatusAwaitingNextInvoice},
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionOrder reports whether an order may move from one status to another.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
