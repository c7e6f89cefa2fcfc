package backend

import "encoding/json"

// Reading is a glucose record in the backend's wire format.
type Reading struct {
	ID         string  `json:"id"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Category   string  `json:"category"`
	Notes      string  `json:"notes"`
	MeasuredAt string  `json:"measured_at"` // "02/01/2006 15:04:05" in the backend's zone
}

// ReadingPayload is the create-request body. Local-only fields are stripped
// before this point.
type ReadingPayload struct {
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Category   string  `json:"category"`
	Notes      string  `json:"notes"`
	MeasuredAt string  `json:"measured_at"`
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}
