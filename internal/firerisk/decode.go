package firerisk

import (
	"bytes"
	"encoding/json"
)

// wireBatch is the upstream top-level response shape.
type wireBatch struct {
	Data        *[]json.RawMessage `json:"data"`
	ModelInfo   *wireModelInfo     `json:"model_info"`
	Timestamp   string             `json:"timestamp"`
	LastUpdated string             `json:"last_updated"`
}

type wireModelInfo struct {
	Name        string             `json:"name"`
	Version     string             `json:"version"`
	TrainedAt   string             `json:"trained_at"`
	Features    []string           `json:"features"`
	Metrics     map[string]float64 `json:"metrics"`
	Description string             `json:"description"`
}

// DecodeRawBatch parses an upstream response body. Only the top-level shape
// is checked here; records stay raw for the Validator.
func DecodeRawBatch(body []byte) (*RawBatch, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, NewInvalidResponse("empty response body", nil)
	}

	var wb wireBatch
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, NewInvalidResponse("response is not a JSON object with a data array", err)
	}
	if wb.Data == nil {
		return nil, NewInvalidResponse("response has no data array", nil)
	}

	raw := &RawBatch{
		Data:        *wb.Data,
		Timestamp:   wb.Timestamp,
		LastUpdated: wb.LastUpdated,
	}
	if wb.ModelInfo != nil {
		raw.ModelInfo = &ModelInfo{
			Name:        wb.ModelInfo.Name,
			Version:     wb.ModelInfo.Version,
			TrainedAt:   wb.ModelInfo.TrainedAt,
			Features:    wb.ModelInfo.Features,
			Metrics:     wb.ModelInfo.Metrics,
			Description: wb.ModelInfo.Description,
		}
	}
	return raw, nil
}
