package supplier

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/types"
)

// CJ order statuses the pipeline reacts to.
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusUnpaid    = "UNPAID"
	OrderStatusUnshipped = "UNSHIPPED"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

type OrderProduct struct {
	VariantID string `json:"vid"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	OrderNumber  string
	Address      types.ShippingAddress
	FromCountry  string
	LogisticName string
	Products     []OrderProduct
}

// Order is the supplier's view of a placed order. OrderID may be empty when
// CJ answers 200 with an incomplete body; callers must check it.
type Order struct {
	OrderID        string `json:"orderId"`
	OrderNumber    string `json:"orderNum"`
	Status         string `json:"orderStatus"`
	TrackingNumber string `json:"trackNumber"`
}

type createOrderBody struct {
	OrderNumber          string         `json:"orderNumber"`
	ShippingZip          string         `json:"shippingZip"`
	ShippingCountryCode  string         `json:"shippingCountryCode"`
	ShippingProvince     string         `json:"shippingProvince"`
	ShippingCity         string         `json:"shippingCity"`
	ShippingAddress      string         `json:"shippingAddress"`
	ShippingAddress2     string         `json:"shippingAddress2,omitempty"`
	ShippingCustomerName string         `json:"shippingCustomerName"`
	ShippingPhone        string         `json:"shippingPhone,omitempty"`
	FromCountryCode      string         `json:"fromCountryCode"`
	LogisticName         string         `json:"logisticName"`
	Products             []OrderProduct `json:"products"`
}

// CreateOrder places a supplier order. The returned Order is the raw
// response; a missing order id is not turned into an error here.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	if len(req.Products) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one product")
	}
	addr := req.Address.Normalize()
	if err := addr.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}

	body := createOrderBody{
		OrderNumber:          req.OrderNumber,
		ShippingZip:          addr.PostalCode,
		ShippingCountryCode:  addr.Country,
		ShippingProvince:     addr.State,
		ShippingCity:         addr.City,
		ShippingAddress:      addr.Line1,
		ShippingAddress2:     addr.Line2,
		ShippingCustomerName: addr.Name,
		ShippingPhone:        addr.Phone,
		FromCountryCode:      req.FromCountry,
		LogisticName:         req.LogisticName,
		Products:             req.Products,
	}

	var order Order
	if err := c.do(ctx, "create order", http.MethodPost, "shopping/order/createOrderV2", nil, body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// PayOrder settles the order from the account balance.
func (c *Client) PayOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return c.do(ctx, "pay order", http.MethodPost, "shopping/pay/payBalance", nil, map[string]string{"orderId": orderID}, nil)
}

// ConfirmOrder releases a paid order to the warehouse.
func (c *Client) ConfirmOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return c.do(ctx, "confirm order", http.MethodPatch, "shopping/order/confirmOrder", nil, map[string]string{"orderId": orderID}, nil)
}

// GetOrder reads the current supplier status of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	var order Order
	if err := c.do(ctx, "get order", http.MethodGet, "shopping/order/getOrderDetail", url.Values{"orderId": {orderID}}, nil, &order); err != nil {
		return nil, err
	}
	if order.Status == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "order detail missing status")
	}
	return &order, nil
}
