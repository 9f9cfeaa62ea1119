package enums

import "fmt"

// WebhookProvider names the sender of an inbound notification.
type WebhookProvider string

const (
	WebhookProviderAuction WebhookProvider = "auction"
	WebhookProviderStripe  WebhookProvider = "stripe"
)

var validWebhookProviders = []WebhookProvider{
	WebhookProviderAuction,
	WebhookProviderStripe,
}

func (p WebhookProvider) String() string {
	return string(p)
}

func (p WebhookProvider) IsValid() bool {
	for _, candidate := range validWebhookProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParseWebhookProvider(value string) (WebhookProvider, error) {
	for _, candidate := range validWebhookProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook provider %q", value)
}
