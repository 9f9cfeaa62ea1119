package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the error body. RequestID echoes X-Request-Id so a webhook
// sender's retry log can be matched to ours.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
