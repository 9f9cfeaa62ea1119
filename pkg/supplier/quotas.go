package supplier

import (
	"context"
	"net/http"
)

// Quota is the remaining call budget for one supplier endpoint.
type Quota struct {
	Endpoint  string `json:"quotaUrl"`
	Limit     int    `json:"quotaLimit"`
	Remaining int    `json:"quotaRemaining"`
}

// Quotas lists the per-endpoint call budget of the account.
func (c *Client) Quotas(ctx context.Context) ([]Quota, error) {
	var data struct {
		Setting struct {
			QuotaLimits []Quota `json:"quotaLimits"`
		} `json:"setting"`
	}
	if err := c.do(ctx, "quotas", http.MethodGet, "setting/get", nil, nil, &data); err != nil {
		return nil, err
	}
	return data.Setting.QuotaLimits, nil
}
