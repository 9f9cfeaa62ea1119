package types

import (
	"database/sql/driver"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
)

var addressValidator = validator.New(validator.WithRequiredStructEnabled())

// ShippingAddress is the buyer destination handed to the supplier and
// snapshotted on the lot once a supplier order exists.
type ShippingAddress struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
	Phone      string `json:"phone,omitempty"`
}

// Normalize trims whitespace and upper-cases the country code.
func (a ShippingAddress) Normalize() ShippingAddress {
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	a.Phone = strings.TrimSpace(a.Phone)
	return a
}

// Validate reports missing or malformed address fields.
func (a ShippingAddress) Validate() error {
	return addressValidator.Struct(a)
}

// Value stores the address as JSON when it is written through a column map.
func (a ShippingAddress) Value() (driver.Value, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
