package stripe

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/invoiceitem"
	"github.com/stripe/stripe-go/v84/invoicepayment"
	"github.com/stripe/stripe-go/v84/refund"

	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
)

const invoicePaymentStatusPaid = "paid"

// Gateway binds the Stripe resource calls to a request context. Consumers
// declare the narrow interface they need and tests substitute fakes.
type Gateway struct{}

// NewGateway requires an initialized Client so stripe.Key is set.
func NewGateway(client *Client) *Gateway {
	if client == nil {
		return nil
	}
	return &Gateway{}
}

func (g *Gateway) CreateInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error) {
	if params != nil {
		params.Context = ctx
	}
	return invoice.New(params)
}

func (g *Gateway) GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	return invoice.Get(id, params)
}

func (g *Gateway) AddInvoiceItem(ctx context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	if params != nil {
		params.Context = ctx
	}
	return invoiceitem.New(params)
}

func (g *Gateway) FinalizeInvoice(ctx context.Context, id string, params *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error) {
	if params == nil {
		params = &stripe.InvoiceFinalizeInvoiceParams{}
	}
	params.Context = ctx
	return invoice.FinalizeInvoice(id, params)
}

// FindCustomerByMetadata returns the first customer whose metadata key
// matches value, or nil when none does.
func (g *Gateway) FindCustomerByMetadata(ctx context.Context, key, value string) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   fmt.Sprintf("metadata['%s']:'%s'", key, value),
		},
	}
	params.Limit = stripe.Int64(1)
	iter := customer.Search(params)
	if iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// InvoicePaymentIntentID finds the payment intent that settled the invoice.
func (g *Gateway) InvoicePaymentIntentID(ctx context.Context, invoiceID string) (string, error) {
	params := &stripe.InvoicePaymentListParams{Invoice: stripe.String(invoiceID)}
	params.Context = ctx
	iter := invoicepayment.List(params)

	fallback := ""
	for iter.Next() {
		payment := iter.InvoicePayment()
		if payment == nil || payment.Payment == nil || payment.Payment.PaymentIntent == nil {
			continue
		}
		if payment.Status == invoicePaymentStatusPaid {
			return payment.Payment.PaymentIntent.ID, nil
		}
		if fallback == "" {
			fallback = payment.Payment.PaymentIntent.ID
		}
	}
	if err := iter.Err(); err != nil {
		return "", err
	}
	if fallback == "" {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "invoice has no payment intent")
	}
	return fallback, nil
}

func (g *Gateway) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	if params != nil {
		params.Context = ctx
	}
	return refund.New(params)
}
