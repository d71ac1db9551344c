package datasync

import (
	"time"

	"github.com/firewatch/firewatch/internal/firerisk"
	"github.com/firewatch/firewatch/internal/location"
)

// Status is the lifecycle state of the controller.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusLoading  Status = "loading"
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
)

// Source says where the published data came from.
type Source string

const (
	SourceNone     Source = ""
	SourceLive     Source = "live"
	SourcePrevious Source = "previous"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// Notification announces a dataset with a new batch timestamp.
type Notification struct {
	ID                uint64    `json:"id"`
	Message           string    `json:"message"`
	BatchTimestamp    string    `json:"batchTimestamp"`
	PreviousTimestamp string    `json:"previousTimestamp"`
	CreatedAt         time.Time `json:"createdAt"`
}

// StationMatch is the catalog station nearest to the observer.
type StationMatch struct {
	Station    firerisk.Station `json:"station"`
	DistanceKm float64          `json:"distanceKm"`
}

// State is an immutable snapshot of what the controller publishes. Slices
// are shared between snapshots and must not be modified.
type State struct {
	Status      Status              `json:"status"`
	Data        []firerisk.Record   `json:"data"`
	Loading     bool                `json:"loading"`
	Error       string              `json:"error,omitempty"`
	ErrorCode   string              `json:"errorCode,omitempty"`
	LastUpdated string              `json:"lastUpdated,omitempty"`
	ModelInfo   *firerisk.ModelInfo `json:"modelInfo,omitempty"`
	Source      Source              `json:"source,omitempty"`

	// Stale is set when the data is a cache entry older than the stale threshold.
	Stale    bool       `json:"stale"`
	CachedAt *time.Time `json:"cachedAt,omitempty"`

	Notification *Notification              `json:"notification,omitempty"`
	Report       *firerisk.ValidationReport `json:"report,omitempty"`

	Observer       *location.Observer  `json:"observer,omitempty"`
	ObserverError  string              `json:"observerError,omitempty"`
	Nearest        []firerisk.Neighbor `json:"nearest,omitempty"`
	NearestStation *StationMatch       `json:"nearestStation,omitempty"`

	// Version increases with every publication.
	Version uint64 `json:"version"`
}

// HasData reports whether any records are published.
func (s State) HasData() bool {
	return len(s.Data) > 0
}
