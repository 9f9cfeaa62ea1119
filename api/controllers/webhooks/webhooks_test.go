package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	ledgerstore "github.com/PASLLC7291/high-end-auction-sub002/internal/webhooks"
	auctionwebhook "github.com/PASLLC7291/high-end-auction-sub002/internal/webhooks/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/dbtest"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

const (
	stripeTestSecret  = "whsec_test"
	auctionTestSecret = "auction-secret"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type fakeStripeWebhookService struct {
	calls int
	err   error
}

func (f *fakeStripeWebhookService) HandleEvent(context.Context, *stripe.Event) error {
	f.calls++
	return f.err
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type fakeAuctionService struct {
	calls []string
	err   error
}

func (f *fakeAuctionService) HandleNotification(_ context.Context, n *auctionwebhook.Notification) error {
	f.calls = append(f.calls, n.Data.SaleID)
	return f.err
}

func buildPaidEvent(t *testing.T) ([]byte, string, string) {
	t.Helper()
	rawInvoice, err := json.Marshal(&stripe.Invoice{ID: "in_1"})
	if err != nil {
		t.Fatalf("marshal invoice: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypeInvoicePaid,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: rawInvoice},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, buildStripeSignatureHeader(payload, stripeTestSecret, time.Now().Unix()), event.ID
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postStripe(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookProcessesOnce(t *testing.T) {
	ledger := ledgerstore.NewLedger(dbtest.Open(t))
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: stripeTestSecret}, ledger, testLogger())
	payload, header, eventID := buildPaidEvent(t)

	rec := postStripe(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = postStripe(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", service.calls)
	}

	row, err := ledger.Find(context.Background(), enums.WebhookProviderStripe, eventID)
	if err != nil || row == nil {
		t.Fatalf("ledger row missing: %v", err)
	}
	if row.ProcessedAt == nil || row.ProcessingError != nil {
		t.Fatalf("expected processed row without error, got %+v", row)
	}
}

func TestStripeWebhookAcknowledgesProcessingFailure(t *testing.T) {
	ledger := ledgerstore.NewLedger(dbtest.Open(t))
	service := &fakeStripeWebhookService{err: errors.New("supplier unavailable")}
	handler := StripeWebhook(service, &fakeSigningClient{secret: stripeTestSecret}, ledger, testLogger())
	payload, header, eventID := buildPaidEvent(t)

	rec := postStripe(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite failure, got %d", rec.Code)
	}
	row, err := ledger.Find(context.Background(), enums.WebhookProviderStripe, eventID)
	if err != nil || row == nil {
		t.Fatalf("ledger row missing: %v", err)
	}
	if row.ProcessingError == nil || *row.ProcessingError != "supplier unavailable" {
		t.Fatalf("expected processing error recorded, got %v", row.ProcessingError)
	}

	// the key stays claimed; redelivery does not re-run the handler
	postStripe(handler, payload, header)
	if service.calls != 1 {
		t.Fatalf("expected redelivery ignored, got %d calls", service.calls)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: stripeTestSecret}, ledgerstore.NewLedger(dbtest.Open(t)), nil)
	payload, _, _ := buildPaidEvent(t)

	if rec := postStripe(handler, payload, "t=1,v1=invalid"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	if rec := postStripe(handler, payload, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}
	forged := buildStripeSignatureHeader(payload, "whsec_other", time.Now().Unix())
	if rec := postStripe(handler, payload, forged); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func auctionPayload(t *testing.T, key, saleID, status string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"idempotencyKey": key,
		"event":          "sale.updated",
		"data":           map[string]any{"saleId": saleID, "status": status},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func postAuction(handler http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/auction", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(auctionwebhook.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuctionWebhookDispatchesFirstDelivery(t *testing.T) {
	ledger := ledgerstore.NewLedger(dbtest.Open(t))
	service := &fakeAuctionService{}
	handler := AuctionWebhook(service, auctionTestSecret, ledger, testLogger())
	payload := auctionPayload(t, "key-1", "sale-1", "CLOSED")
	signature := auctionwebhook.Sign(payload, auctionTestSecret)

	for i := 0; i < 2; i++ {
		if rec := postAuction(handler, payload, signature); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if len(service.calls) != 1 || service.calls[0] != "sale-1" {
		t.Fatalf("expected one dispatch for sale-1, got %v", service.calls)
	}
}

func TestAuctionWebhookRecordsFailure(t *testing.T) {
	ledger := ledgerstore.NewLedger(dbtest.Open(t))
	service := &fakeAuctionService{err: errors.New("platform timeout")}
	handler := AuctionWebhook(service, auctionTestSecret, ledger, testLogger())
	payload := auctionPayload(t, "key-2", "sale-2", "CLOSED")

	if rec := postAuction(handler, payload, auctionwebhook.Sign(payload, auctionTestSecret)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	row, err := ledger.Find(context.Background(), enums.WebhookProviderAuction, "key-2")
	if err != nil || row == nil {
		t.Fatalf("ledger row missing: %v", err)
	}
	if row.ProcessingError == nil || *row.ProcessingError != "platform timeout" {
		t.Fatalf("expected processing error, got %v", row.ProcessingError)
	}
}

func TestAuctionWebhookRejectsInvalidRequests(t *testing.T) {
	ledger := ledgerstore.NewLedger(dbtest.Open(t))
	service := &fakeAuctionService{}
	handler := AuctionWebhook(service, auctionTestSecret, ledger, nil)

	payload := auctionPayload(t, "key-3", "sale-3", "CLOSED")
	if rec := postAuction(handler, payload, auctionwebhook.Sign(payload, "wrong")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
	if rec := postAuction(handler, payload, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}

	missingKey := auctionPayload(t, "", "sale-3", "CLOSED")
	if rec := postAuction(handler, missingKey, auctionwebhook.Sign(missingKey, auctionTestSecret)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing idempotency key, got %d", rec.Code)
	}
	if len(service.calls) != 0 {
		t.Fatalf("service should not be invoked, got %v", service.calls)
	}
}
