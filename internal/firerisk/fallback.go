package firerisk

import (
	_ "embed"

	"github.com/rs/zerolog"
)

//go:embed data/fallback.json
var fallbackJSON []byte

// FallbackBatch returns the bundled static dataset, validated against scale.
// It is served when no live or cached data exists so the map is never empty.
func FallbackBatch(scale RiskScale) (*Batch, error) {
	raw, err := DecodeRawBatch(fallbackJSON)
	if err != nil {
		return nil, err
	}
	return NewValidator(ValidatorConfig{Scale: scale, Logger: zerolog.Nop()}).Validate(raw)
}
