// Package firerisk provides the fire-danger domain model, batch validation and
// nearest-neighbor queries over the live dataset and the station catalog.
package firerisk

import (
	"encoding/json"
	"fmt"
	"math"
)

// Record is one validated fire-risk measurement (a grid cell or a station reading).
// Records are only produced by the Validator; every Record satisfies the
// coordinate and risk-range constraints of the scale it was validated against.
type Record struct {
	ID          string  `json:"id"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	RiskLevel   float64 `json:"riskLevel"`
	Location    string  `json:"location"`
	Province    string  `json:"province"`
	LastUpdated string  `json:"lastUpdated"`

	// Optional weather attributes, display only.
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	WindSpeed     *float64 `json:"windSpeed,omitempty"`
	Precipitation *float64 `json:"precipitation,omitempty"`

	// Indices holds the fire-weather sub-indices when the model reports them.
	Indices *Indices `json:"indices,omitempty"`

	// Coefficients are model feature weights, carried through unchanged.
	Coefficients map[string]float64 `json:"coefficients,omitempty"`
}

// Indices are the Canadian Fire Weather Index system components.
type Indices struct {
	FFMC *float64 `json:"ffmc,omitempty"`
	DMC  *float64 `json:"dmc,omitempty"`
	DC   *float64 `json:"dc,omitempty"`
	ISI  *float64 `json:"isi,omitempty"`
	BUI  *float64 `json:"bui,omitempty"`
	FWI  *float64 `json:"fwi,omitempty"`
}

// CompactRecord is the reduced projection of a Record that gets persisted.
// Indices and coefficients are dropped to bound storage.
type CompactRecord struct {
	ID            string   `json:"id"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	RiskLevel     float64  `json:"risk"`
	Location      string   `json:"loc"`
	Province      string   `json:"prov"`
	LastUpdated   string   `json:"upd,omitempty"`
	Temperature   *float64 `json:"t,omitempty"`
	Humidity      *float64 `json:"h,omitempty"`
	WindSpeed     *float64 `json:"w,omitempty"`
	Precipitation *float64 `json:"p,omitempty"`
}

// Compact returns the persisted projection of the record.
func (r Record) Compact() CompactRecord {
	return CompactRecord{
		ID:            r.ID,
		Lat:           r.Lat,
		Lon:           r.Lon,
		RiskLevel:     r.RiskLevel,
		Location:      r.Location,
		Province:      r.Province,
		LastUpdated:   r.LastUpdated,
		Temperature:   r.Temperature,
		Humidity:      r.Humidity,
		WindSpeed:     r.WindSpeed,
		Precipitation: r.Precipitation,
	}
}

// Expand turns a persisted projection back into a Record.
func (c CompactRecord) Expand() Record {
	return Record{
		ID:            c.ID,
		Lat:           c.Lat,
		Lon:           c.Lon,
		RiskLevel:     c.RiskLevel,
		Location:      c.Location,
		Province:      c.Province,
		LastUpdated:   c.LastUpdated,
		Temperature:   c.Temperature,
		Humidity:      c.Humidity,
		WindSpeed:     c.WindSpeed,
		Precipitation: c.Precipitation,
	}
}

// CompactAll projects a dataset for persistence.
func CompactAll(records []Record) []CompactRecord {
	out := make([]CompactRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r.Compact())
	}
	return out
}

// ExpandAll restores a dataset from its persisted projection.
func ExpandAll(records []CompactRecord) []Record {
	out := make([]Record, 0, len(records))
	for _, c := range records {
		out = append(out, c.Expand())
	}
	return out
}

// RecordID derives the stable record key from coordinates rounded to 3 decimals.
func RecordID(lat, lon float64) string {
	return fmt.Sprintf("%.3f,%.3f", round3(lat), round3(lon))
}

func round3(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0 // avoid "-0.000"
	}
	return r
}

// ModelInfo describes the model that produced a batch.
type ModelInfo struct {
	Name        string             `json:"name,omitempty"`
	Version     string             `json:"version,omitempty"`
	TrainedAt   string             `json:"trainedAt,omitempty"`
	Features    []string           `json:"features,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Description string             `json:"description,omitempty"`
}

// RawBatch is the undecoded-as-possible upstream response. Records are kept
// as raw JSON so the Validator decides what is usable.
type RawBatch struct {
	Data        []json.RawMessage
	ModelInfo   *ModelInfo
	Timestamp   string
	LastUpdated string
}

// RawRecord is the upstream record shape (snake_case). Numeric fields that may
// arrive malformed are decoded leniently by the Validator.
type RawRecord struct {
	Lat           json.RawMessage    `json:"lat"`
	Lon           json.RawMessage    `json:"lon"`
	Latitude      json.RawMessage    `json:"latitude"`
	Longitude     json.RawMessage    `json:"longitude"`
	RiskLevel     json.RawMessage    `json:"risk_level"`
	FireRisk      json.RawMessage    `json:"fire_risk"`
	Location      string             `json:"location"`
	Province      string             `json:"province"`
	Temperature   json.RawMessage    `json:"temperature"`
	Humidity      json.RawMessage    `json:"humidity"`
	WindSpeed     json.RawMessage    `json:"wind_speed"`
	Precipitation json.RawMessage    `json:"precipitation"`
	FFMC          json.RawMessage    `json:"ffmc"`
	DMC           json.RawMessage    `json:"dmc"`
	DC            json.RawMessage    `json:"dc"`
	ISI           json.RawMessage    `json:"isi"`
	BUI           json.RawMessage    `json:"bui"`
	FWI           json.RawMessage    `json:"fwi"`
	Coefficients  map[string]float64 `json:"coefficients"`
}

// Batch is the validated output of one fetch cycle.
type Batch struct {
	Records        []Record
	BatchTimestamp string
	ModelInfo      *ModelInfo
	Report         ValidationReport
}
