package enums

import "fmt"

// LotStatus tracks a drop-ship lot from auction close to delivery.
type LotStatus string

const (
	LotStatusAuctionClosed  LotStatus = "AUCTION_CLOSED"
	LotStatusPaid           LotStatus = "PAID"
	LotStatusCJOrdered      LotStatus = "CJ_ORDERED"
	LotStatusCJPaid         LotStatus = "CJ_PAID"
	LotStatusShipped        LotStatus = "SHIPPED"
	LotStatusDelivered      LotStatus = "DELIVERED"
	LotStatusCJOutOfStock   LotStatus = "CJ_OUT_OF_STOCK"
	LotStatusCJPriceChanged LotStatus = "CJ_PRICE_CHANGED"
	LotStatusCancelled      LotStatus = "CANCELLED"
)

var validLotStatuses = []LotStatus{
	LotStatusAuctionClosed,
	LotStatusPaid,
	LotStatusCJOrdered,
	LotStatusCJPaid,
	LotStatusShipped,
	LotStatusDelivered,
	LotStatusCJOutOfStock,
	LotStatusCJPriceChanged,
	LotStatusCancelled,
}

var lotTransitions = map[LotStatus][]LotStatus{
	LotStatusAuctionClosed: {
		LotStatusPaid,
		LotStatusCJOrdered,
		LotStatusCJOutOfStock,
		LotStatusCJPriceChanged,
		LotStatusCancelled,
	},
	LotStatusPaid: {
		LotStatusCJOrdered,
		LotStatusCJOutOfStock,
		LotStatusCJPriceChanged,
		LotStatusCancelled,
	},
	LotStatusCJOrdered:      {LotStatusCJPaid, LotStatusCancelled},
	LotStatusCJPaid:         {LotStatusShipped, LotStatusDelivered},
	LotStatusShipped:        {LotStatusDelivered},
	LotStatusCJOutOfStock:   {LotStatusCancelled},
	LotStatusCJPriceChanged: {LotStatusCancelled},
}

// String implements fmt.Stringer.
func (s LotStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LotStatus.
func (s LotStatus) IsValid() bool {
	for _, candidate := range validLotStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s LotStatus) IsTerminal() bool {
	return s.IsValid() && len(lotTransitions[s]) == 0
}

// IsGuardFailure reports whether s is a guard outcome awaiting a refund.
func (s LotStatus) IsGuardFailure() bool {
	return s == LotStatusCJOutOfStock || s == LotStatusCJPriceChanged
}

// CanTransition reports whether a lot may move from one status to another.
func CanTransition(from, to LotStatus) bool {
	for _, next := range lotTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SpendStatuses lists the statuses whose total cost counts against the daily cap.
func SpendStatuses() []LotStatus {
	return []LotStatus{
		LotStatusCJOrdered,
		LotStatusCJPaid,
		LotStatusShipped,
		LotStatusDelivered,
	}
}

// ParseLotStatus converts raw input into a LotStatus.
func ParseLotStatus(value string) (LotStatus, error) {
	for _, candidate := range validLotStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lot status %q", value)
}
