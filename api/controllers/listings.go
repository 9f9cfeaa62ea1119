package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/PASLLC7291/high-end-auction-sub002/api/responses"
	"github.com/PASLLC7291/high-end-auction-sub002/api/validators"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

const defaultFromCountry = "CN"

type listingStore interface {
	UpsertListing(ctx context.Context, listing *models.DropshipListing) error
}

type listingUpsertRequest struct {
	ItemID                string `json:"item_id" validate:"required"`
	SupplierProductID     string `json:"supplier_product_id" validate:"required"`
	SupplierVariantID     string `json:"supplier_variant_id" validate:"required"`
	SupplierCostCents     int64  `json:"supplier_cost_cents" validate:"gt=0"`
	SupplierShippingCents int64  `json:"supplier_shipping_cents" validate:"gte=0"`
	FromCountry           string `json:"from_country" validate:"omitempty,iso3166_1_alpha2"`
	LogisticName          string `json:"logistic_name" validate:"required"`
	Active                *bool  `json:"active"`
}

func (r listingUpsertRequest) toModel() *models.DropshipListing {
	country := strings.ToUpper(strings.TrimSpace(r.FromCountry))
	if country == "" {
		country = defaultFromCountry
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &models.DropshipListing{
		ItemID:                strings.TrimSpace(r.ItemID),
		SupplierProductID:     strings.TrimSpace(r.SupplierProductID),
		SupplierVariantID:     strings.TrimSpace(r.SupplierVariantID),
		SupplierCostCents:     r.SupplierCostCents,
		SupplierShippingCents: r.SupplierShippingCents,
		FromCountry:           country,
		LogisticName:          strings.TrimSpace(r.LogisticName),
		Active:                active,
	}
}

// ListingUpsert maps an auction item to its supplier variant. Only mapped,
// active items are drop-shipped when their sale closes.
func ListingUpsert(store listingStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "listing store unavailable"))
			return
		}

		var req listingUpsertRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		listing := req.toModel()
		if err := store.UpsertListing(ctx, listing); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "item_id", listing.ItemID), "dropship listing saved")
		}
		responses.WriteSuccess(w, listing)
	}
}
