package auctionwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/salesclosed"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Auction-Signature"

const saleStatusClosed = "CLOSED"

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// Notification is the auction platform webhook body.
type Notification struct {
	IdempotencyKey string           `json:"idempotencyKey" validate:"required"`
	Event          string           `json:"event" validate:"required"`
	Data           NotificationData `json:"data" validate:"required"`
}

type NotificationData struct {
	SaleID string `json:"saleId" validate:"required"`
	Status string `json:"status"`
}

// SaleClosed reports whether the notification announces a closed sale.
func (n Notification) SaleClosed() bool {
	return strings.EqualFold(strings.TrimSpace(n.Data.Status), saleStatusClosed)
}

// ParseNotification decodes and validates a webhook body.
func ParseNotification(payload []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode auction notification")
	}
	n.IdempotencyKey = strings.TrimSpace(n.IdempotencyKey)
	n.Data.SaleID = strings.TrimSpace(n.Data.SaleID)
	if err := payloadValidator.Struct(n); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid auction notification")
	}
	return &n, nil
}

// VerifySignature checks the hex HMAC-SHA256 of payload under secret.
func VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign returns the signature the platform sends for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type saleProcessor interface {
	ProcessSale(ctx context.Context, saleID string) (*salesclosed.Result, error)
}

type ServiceParams struct {
	Processor saleProcessor
	Logger    *logger.Logger
}

// Service dispatches verified auction notifications.
type Service struct {
	processor saleProcessor
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sale processor required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{processor: params.Processor, logg: params.Logger}, nil
}

// HandleNotification runs the sale-closed processor for closed sales and
// ignores everything else.
func (s *Service) HandleNotification(ctx context.Context, n *Notification) error {
	if n == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification required")
	}
	ctx = s.logg.WithSaleID(ctx, n.Data.SaleID)
	if !n.SaleClosed() {
		s.logg.Info(ctx, fmt.Sprintf("ignoring auction event %s with sale status %q", n.Event, n.Data.Status))
		return nil
	}
	_, err := s.processor.ProcessSale(ctx, n.Data.SaleID)
	return err
}
