package buyers

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/types"
)

// MetadataKey links a Stripe customer to an auction-platform buyer.
const MetadataKey = "buyer_id"

type customerFinder interface {
	FindCustomerByMetadata(ctx context.Context, key, value string) (*stripe.Customer, error)
}

// PaymentProfile is what the invoice issuer needs to bill a buyer.
type PaymentProfile struct {
	CustomerID             string
	DefaultPaymentMethodID string
	Shipping               *types.ShippingAddress
}

// Resolver maps buyer ids to their Stripe customer.
type Resolver struct {
	stripe customerFinder
}

func NewResolver(finder customerFinder) (*Resolver, error) {
	if finder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe customer finder required")
	}
	return &Resolver{stripe: finder}, nil
}

// PaymentProfile loads the buyer's customer. A missing default payment method
// is returned as an empty id; the invoice issuer decides that it is fatal.
func (r *Resolver) PaymentProfile(ctx context.Context, buyerID string) (*PaymentProfile, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	cust, err := r.stripe.FindCustomerByMetadata(ctx, MetadataKey, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search stripe customer")
	}
	if cust == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer has no payment profile").
			WithDetails(map[string]any{"buyer_id": buyerID})
	}

	profile := &PaymentProfile{CustomerID: cust.ID}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		profile.DefaultPaymentMethodID = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}
	profile.Shipping = shippingFromCustomer(cust)
	return profile, nil
}

// ShippingAddress resolves and validates the buyer's destination.
func (r *Resolver) ShippingAddress(ctx context.Context, buyerID string) (types.ShippingAddress, error) {
	profile, err := r.PaymentProfile(ctx, buyerID)
	if err != nil {
		return types.ShippingAddress{}, err
	}
	if profile.Shipping == nil {
		return types.ShippingAddress{}, pkgerrors.New(pkgerrors.CodeValidation, "buyer has no shipping address").
			WithDetails(map[string]any{"buyer_id": buyerID})
	}
	addr := profile.Shipping.Normalize()
	if err := addr.Validate(); err != nil {
		return types.ShippingAddress{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid buyer shipping address")
	}
	return addr, nil
}

// shippingFromCustomer prefers the shipping block and falls back to the
// billing address under the customer name.
func shippingFromCustomer(cust *stripe.Customer) *types.ShippingAddress {
	if cust.Shipping != nil && cust.Shipping.Address != nil {
		return fromStripeAddress(cust.Shipping.Name, cust.Shipping.Phone, cust.Shipping.Address)
	}
	if cust.Address != nil && cust.Address.Line1 != "" {
		return fromStripeAddress(cust.Name, cust.Phone, cust.Address)
	}
	return nil
}

func fromStripeAddress(name, phone string, addr *stripe.Address) *types.ShippingAddress {
	return &types.ShippingAddress{
		Name:       name,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      phone,
	}
}
