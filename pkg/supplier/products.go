package supplier

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Stock returns the total inventory for a variant across every warehouse.
func (c *Client) Stock(ctx context.Context, variantID string) (int, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}

	var rows []struct {
		CountryCode string `json:"countryCode"`
		StorageNum  int    `json:"storageNum"`
	}
	if err := c.do(ctx, "variant stock", http.MethodGet, "product/stock/queryByVid", url.Values{"vid": {variantID}}, nil, &rows); err != nil {
		return 0, err
	}

	total := 0
	for _, row := range rows {
		if row.StorageNum > 0 {
			total += row.StorageNum
		}
	}
	return total, nil
}

// VariantPriceCents returns the current sell price of a variant in cents.
func (c *Client) VariantPriceCents(ctx context.Context, variantID string) (int64, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}

	var data struct {
		VID              string           `json:"vid"`
		VariantSellPrice *decimal.Decimal `json:"variantSellPrice"`
	}
	if err := c.do(ctx, "variant price", http.MethodGet, "product/variant/queryByVid", url.Values{"vid": {variantID}}, nil, &data); err != nil {
		return 0, err
	}
	if data.VariantSellPrice == nil {
		return 0, pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "variant price missing")
	}
	return ToCents(*data.VariantSellPrice), nil
}

// ToCents converts a major-unit amount to integer cents, rounding half away from zero.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
