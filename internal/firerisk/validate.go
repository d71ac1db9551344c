package firerisk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/firewatch/firewatch/pkg/geo"
)

// Plausibility limits for the optional weather attributes. Values outside
// these bounds are logged but never disqualify a record.
const (
	MinTemperatureC = -60.0
	MaxTemperatureC = 60.0
	MinHumidityPct  = 0.0
	MaxHumidityPct  = 100.0
	MinWindKmh      = 0.0
	MaxWindKmh      = 200.0
)

// ValidatorConfig holds configuration for the Validator.
type ValidatorConfig struct {
	// Scale is the risk scale records are validated against.
	// Default: ProbabilityScale.
	Scale RiskScale

	// Logger receives rejection and plausibility diagnostics.
	Logger zerolog.Logger

	// MaxInvalidSamples caps the InvalidItems diagnostic list. Default: 10.
	MaxInvalidSamples int

	// RejectionWarnRate is the rejection rate above which a warning is logged.
	// Default: 0.10.
	RejectionWarnRate float64
}

// InvalidItem describes one rejected raw record.
type InvalidItem struct {
	Index    int    `json:"index"`
	Reason   string `json:"reason"`
	Location string `json:"location,omitempty"`
}

// ValidationReport summarizes a validated batch.
type ValidationReport struct {
	Total                int           `json:"total"`
	Valid                int           `json:"valid"`
	Invalid              int           `json:"invalid"`
	RejectionRate        float64       `json:"rejectionRate"`
	HighRejection        bool          `json:"highRejection"`
	InvalidItems         []InvalidItem `json:"invalidItems,omitempty"`
	PlausibilityWarnings int           `json:"plausibilityWarnings"`
}

// Validator converts raw upstream batches into canonical records.
type Validator struct {
	scale             RiskScale
	logger            zerolog.Logger
	maxInvalidSamples int
	rejectionWarnRate float64
}

// NewValidator creates a Validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	scale := cfg.Scale
	if scale.Name == "" {
		scale = ProbabilityScale
	}
	maxSamples := cfg.MaxInvalidSamples
	if maxSamples <= 0 {
		maxSamples = 10
	}
	warnRate := cfg.RejectionWarnRate
	if warnRate <= 0 {
		warnRate = 0.10
	}
	return &Validator{
		scale:             scale,
		logger:            cfg.Logger,
		maxInvalidSamples: maxSamples,
		rejectionWarnRate: warnRate,
	}
}

// Scale returns the scale the validator admits records against.
func (v *Validator) Scale() RiskScale {
	return v.scale
}

// Validate checks every raw record, drops the invalid ones and returns the
// admitted records stamped with the batch timestamp. The batch as a whole only
// fails when nothing usable remains.
func (v *Validator) Validate(raw *RawBatch) (*Batch, error) {
	if raw == nil {
		return nil, NewInvalidResponse("empty response", nil)
	}

	batchTimestamp := strings.TrimSpace(raw.LastUpdated)
	if batchTimestamp == "" {
		batchTimestamp = strings.TrimSpace(raw.Timestamp)
	}
	if batchTimestamp == "" {
		return nil, NewInvalidResponse("response carries no batch timestamp", nil)
	}

	report := ValidationReport{Total: len(raw.Data)}
	records := make([]Record, 0, len(raw.Data))
	sawNumericRisk := false

	for i, item := range raw.Data {
		var rr RawRecord
		if err := json.Unmarshal(item, &rr); err != nil {
			v.reject(&report, i, "malformed record", "")
			continue
		}

		risk, riskOK := rr.risk()
		if riskOK {
			sawNumericRisk = true
		}

		record, reason := v.admit(rr, risk, riskOK, batchTimestamp)
		if reason != "" {
			v.reject(&report, i, reason, strings.TrimSpace(rr.Location))
			continue
		}

		report.PlausibilityWarnings += v.checkPlausibility(i, record)
		records = append(records, record)
	}

	report.Valid = len(records)
	if report.Total > 0 {
		report.RejectionRate = float64(report.Invalid) / float64(report.Total)
	}

	if report.RejectionRate > v.rejectionWarnRate {
		report.HighRejection = true
		v.logger.Warn().
			Int("total", report.Total).
			Int("invalid", report.Invalid).
			Float64("rejection_rate", report.RejectionRate).
			Msg("high rejection rate in fire-risk batch")
	}

	if report.Total > 0 && !sawNumericRisk {
		return nil, &APIError{
			Code:    CodeNoValidRisks,
			Message: "no record carried a numeric risk value",
			Details: map[string]any{"total": report.Total},
		}
	}

	if len(records) == 0 {
		return nil, &APIError{
			Code:    CodeNoValidData,
			Message: fmt.Sprintf("all %d records were rejected", report.Total),
			Details: map[string]any{
				"total":        report.Total,
				"invalidItems": report.InvalidItems,
			},
		}
	}

	v.logger.Debug().
		Int("total", report.Total).
		Int("valid", report.Valid).
		Str("batch_timestamp", batchTimestamp).
		Msg("fire-risk batch validated")

	return &Batch{
		Records:        records,
		BatchTimestamp: batchTimestamp,
		ModelInfo:      raw.ModelInfo,
		Report:         report,
	}, nil
}

// admit returns the canonical record, or a non-empty rejection reason.
// Checks run in a fixed order: latitude, longitude, risk, display strings.
func (v *Validator) admit(rr RawRecord, risk float64, riskOK bool, batchTimestamp string) (Record, string) {
	lat, ok := firstNumber(rr.Lat, rr.Latitude)
	if !ok || lat < -90 || lat > 90 {
		return Record{}, "latitude out of range"
	}

	lon, ok := firstNumber(rr.Lon, rr.Longitude)
	if !ok || lon < -180 || lon > 180 {
		return Record{}, "longitude out of range"
	}

	if !riskOK {
		return Record{}, "risk value is not numeric"
	}
	if !v.scale.InRange(risk) {
		return Record{}, fmt.Sprintf("risk %.4g outside %s range [%g,%g]", risk, v.scale.Name, v.scale.Min, v.scale.Max)
	}

	location := strings.TrimSpace(rr.Location)
	province := strings.TrimSpace(rr.Province)
	if location == "" {
		return Record{}, "missing location"
	}
	if province == "" {
		return Record{}, "missing province"
	}

	// geo.ValidLatLon also rejects NaN which the range checks above let through.
	if !geo.ValidLatLon(lat, lon) {
		return Record{}, "invalid coordinates"
	}

	record := Record{
		ID:            RecordID(lat, lon),
		Lat:           lat,
		Lon:           lon,
		RiskLevel:     risk,
		Location:      location,
		Province:      province,
		LastUpdated:   batchTimestamp,
		Temperature:   optionalNumber(rr.Temperature),
		Humidity:      optionalNumber(rr.Humidity),
		WindSpeed:     optionalNumber(rr.WindSpeed),
		Precipitation: optionalNumber(rr.Precipitation),
		Coefficients:  rr.Coefficients,
	}

	indices := Indices{
		FFMC: optionalNumber(rr.FFMC),
		DMC:  optionalNumber(rr.DMC),
		DC:   optionalNumber(rr.DC),
		ISI:  optionalNumber(rr.ISI),
		BUI:  optionalNumber(rr.BUI),
		FWI:  optionalNumber(rr.FWI),
	}
	if indices != (Indices{}) {
		record.Indices = &indices
	}

	return record, ""
}

func (v *Validator) reject(report *ValidationReport, index int, reason, location string) {
	report.Invalid++
	if len(report.InvalidItems) < v.maxInvalidSamples {
		report.InvalidItems = append(report.InvalidItems, InvalidItem{
			Index:    index,
			Reason:   reason,
			Location: location,
		})
	}
}

// checkPlausibility logs implausible weather values and returns how many it found.
func (v *Validator) checkPlausibility(index int, r Record) int {
	warnings := 0
	check := func(field string, value *float64, lo, hi float64) {
		if value == nil || (*value >= lo && *value <= hi) {
			return
		}
		warnings++
		v.logger.Debug().
			Int("index", index).
			Str("record_id", r.ID).
			Str("field", field).
			Float64("value", *value).
			Msg("implausible weather value")
	}
	check("temperature", r.Temperature, MinTemperatureC, MaxTemperatureC)
	check("humidity", r.Humidity, MinHumidityPct, MaxHumidityPct)
	check("wind_speed", r.WindSpeed, MinWindKmh, MaxWindKmh)
	return warnings
}

// risk returns the record's risk value, accepting either upstream field name.
func (rr RawRecord) risk() (float64, bool) {
	return firstNumber(rr.RiskLevel, rr.FireRisk)
}

// firstNumber returns the first of the raw values that is a JSON number.
func firstNumber(values ...json.RawMessage) (float64, bool) {
	for _, raw := range values {
		if n, ok := parseNumber(raw); ok {
			return n, true
		}
	}
	return 0, false
}

// parseNumber accepts only JSON numbers; strings, booleans and null are not numeric.
func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	c := raw[0]
	if c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func optionalNumber(raw json.RawMessage) *float64 {
	n, ok := parseNumber(raw)
	if !ok {
		return nil
	}
	return &n
}
