package enums

import "testing"

func TestCanTransitionOrderKeepsBacklogSticky(t *testing.T) {
	allowed := [][2]OrderStatus{
		{OrderStatusOpen, OrderStatusInvoiceIssued},
		{OrderStatusInvoiceIssued, OrderStatusPaid},
		{OrderStatusInvoiceIssued, OrderStatusAwaitingNextInvoice},
		{OrderStatusPaid, OrderStatusAwaitingNextInvoice},
	}
	for _, pair := range allowed {
		if !CanTransitionOrder(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]OrderStatus{
		{OrderStatusOpen, OrderStatusPaid},
		{OrderStatusOpen, OrderStatusAwaitingNextInvoice},
		{OrderStatusAwaitingNextInvoice, OrderStatusPaid},
		{OrderStatusPaid, OrderStatusInvoiceIssued},
		{OrderStatusPaid, OrderStatusPaid},
	}
	for _, pair := range denied {
		if CanTransitionOrder(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}
