package auction

import (
	"context"
	"strings"

	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
)

// OrderLine is one won item billed on a platform order.
type OrderLine struct {
	ItemID      string `json:"itemId"`
	AmountCents int64  `json:"amountCents"`
	Description string `json:"description"`
}

type CreateOrderInput struct {
	SaleID   string      `json:"saleId"`
	BuyerID  string      `json:"buyerId"`
	Currency string      `json:"currency"`
	Lines    []OrderLine `json:"lines"`
}

type RegisterInvoiceInput struct {
	OrderID     string `json:"orderId"`
	InvoiceID   string `json:"externalInvoiceId"`
	InvoiceURL  string `json:"invoiceUrl"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

const createOrderMutation = `mutation CreateOrder($input: CreateOrderInput!) {
  createOrder(input: $input) { order { id } }
}`

const addOrderLinesMutation = `mutation AddOrderLines($orderId: ID!, $lines: [OrderLineInput!]!) {
  addOrderLines(orderId: $orderId, lines: $lines) { order { id } }
}`

const publishOrderMutation = `mutation PublishOrder($orderId: ID!) {
  publishOrder(orderId: $orderId) { order { id status } }
}`

const registerInvoiceMutation = `mutation RegisterInvoice($input: RegisterInvoiceInput!) {
  registerInvoice(input: $input) { invoice { id } }
}`

// CreateOrder opens a platform order for a buyer's won items and returns its id.
func (c *Client) CreateOrder(ctx context.Context, input CreateOrderInput) (string, error) {
	if strings.TrimSpace(input.SaleID) == "" || strings.TrimSpace(input.BuyerID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "sale id and buyer id are required")
	}
	if len(input.Lines) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one line")
	}

	var data struct {
		CreateOrder struct {
			Order struct {
				ID string `json:"id"`
			} `json:"order"`
		} `json:"createOrder"`
	}
	if err := c.do(ctx, "create order", createOrderMutation, map[string]any{"input": input}, &data); err != nil {
		return "", err
	}
	id := strings.TrimSpace(data.CreateOrder.Order.ID)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "create order response missing order id")
	}
	return id, nil
}

// AddOrderLines appends lines to an existing platform order.
func (c *Client) AddOrderLines(ctx context.Context, orderID string, lines []OrderLine) error {
	if strings.TrimSpace(orderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if len(lines) == 0 {
		return nil
	}
	return c.do(ctx, "add order lines", addOrderLinesMutation, map[string]any{"orderId": orderID, "lines": lines}, nil)
}

// PublishOrder makes the order visible to the buyer.
func (c *Client) PublishOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return c.do(ctx, "publish order", publishOrderMutation, map[string]any{"orderId": orderID}, nil)
}

// RegisterInvoice records the finalized Stripe invoice against the order.
func (c *Client) RegisterInvoice(ctx context.Context, input RegisterInvoiceInput) error {
	if strings.TrimSpace(input.OrderID) == "" || strings.TrimSpace(input.InvoiceID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and invoice id are required")
	}
	return c.do(ctx, "register invoice", registerInvoiceMutation, map[string]any{"input": input}, nil)
}
