package models

import (
	"github.com/firewatch/firewatch/internal/firerisk"
)

// FireRiskState is the published dataset state.
type FireRiskState struct {
	Status      string                     `json:"status"`
	Data        []firerisk.Record          `json:"data"`
	Loading     bool                       `json:"loading"`
	Error       *string                    `json:"error"`
	ErrorCode   string                     `json:"errorCode,omitempty"`
	LastUpdated *string                    `json:"lastUpdated"`
	ModelInfo   *firerisk.ModelInfo        `json:"modelInfo"`
	Source      string                     `json:"source,omitempty"`
	Stale       bool                       `json:"stale"`
	CachedAt    *Timestamp                 `json:"cachedAt,omitempty"`
	Count       int                        `json:"count"`
	Report      *firerisk.ValidationReport `json:"report,omitempty"`
	Notice      *Notification              `json:"notification,omitempty"`
	Version     uint64                     `json:"version"`
}

// Notification announces a newer batch.
type Notification struct {
	Message           string    `json:"message"`
	BatchTimestamp    string    `json:"batchTimestamp"`
	PreviousTimestamp string    `json:"previousTimestamp"`
	CreatedAt         Timestamp `json:"createdAt"`
}

// RefetchAccepted is returned when a refresh cycle was started.
type RefetchAccepted struct {
	Status      string `json:"status"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// Station is a reference station.
type Station struct {
	Name     string  `json:"name"`
	Province string  `json:"province"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// StationList lists the station catalog.
type StationList struct {
	Stations []Station `json:"stations"`
	Bounds   GeoBox    `json:"bounds"`
}

// GeoBox represents a geographic bounding box.
type GeoBox struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// StationAggregate summarizes the records closest to one station.
type StationAggregate struct {
	Station     Station        `json:"station"`
	Count       int            `json:"count"`
	AvgRisk     float64        `json:"avgRisk"`
	MaxRisk     float64        `json:"maxRisk"`
	MinRisk     float64        `json:"minRisk"`
	ClassCounts map[string]int `json:"classCounts"`
	DangerClass string         `json:"dangerClass"`
}

// StationDetail is one station with the records it aggregates.
type StationDetail struct {
	StationAggregate
	Records []firerisk.Record `json:"records"`
}

// AggregateList is the per-station aggregate view.
type AggregateList struct {
	Scale       string             `json:"scale"`
	LastUpdated *string            `json:"lastUpdated"`
	Aggregates  []StationAggregate `json:"aggregates"`
}

// Neighbor is a record near a query point.
type Neighbor struct {
	Record      firerisk.Record `json:"record"`
	DistanceKm  float64         `json:"distanceKm"`
	DangerClass string          `json:"dangerClass"`
}

// NearestStation is the closest catalog station to a query point.
type NearestStation struct {
	Station    Station `json:"station"`
	DistanceKm float64 `json:"distanceKm"`
}

// NearestResponse answers a nearest-neighbor query.
type NearestResponse struct {
	Query          Point           `json:"query"`
	NearestStation *NearestStation `json:"nearestStation,omitempty"`
	Neighbors      []Neighbor      `json:"neighbors"`
}

// Observer is the resolved observer location.
type Observer struct {
	Lat            float64         `json:"lat"`
	Lon            float64         `json:"lon"`
	City           string          `json:"city,omitempty"`
	Source         string          `json:"source,omitempty"`
	ResolvedAt     *Timestamp      `json:"resolvedAt,omitempty"`
	NearestStation *NearestStation `json:"nearestStation,omitempty"`
	Nearby         []Neighbor      `json:"nearby,omitempty"`
}

// ObserverResponse wraps the observer and any lookup failure.
type ObserverResponse struct {
	Observer *Observer `json:"observer"`
	Error    *string   `json:"error,omitempty"`
}

// StationFromCatalog converts a catalog station.
func StationFromCatalog(s firerisk.Station) Station {
	return Station{Name: s.Name, Province: s.Province, Lat: s.Lat, Lon: s.Lon}
}
