package firerisk

import (
	"math"
	"sort"
	"strings"

	"github.com/firewatch/firewatch/pkg/geo"
)

// Neighbor is a record paired with its distance from a query point.
type Neighbor struct {
	Record     Record  `json:"record"`
	DistanceKm float64 `json:"distanceKm"`
}

// StationAggregate summarizes the dataset records whose nearest station is Station.
type StationAggregate struct {
	Station     Station             `json:"station"`
	Records     []Record            `json:"records,omitempty"`
	Count       int                 `json:"count"`
	AvgRisk     float64             `json:"avgRisk"`
	MaxRisk     float64             `json:"maxRisk"`
	MinRisk     float64             `json:"minRisk"`
	ClassCounts map[DangerClass]int `json:"classCounts"`
}

// Index answers nearest-neighbor queries against a station catalog.
// Scans are brute force; the catalog holds tens of entries.
type Index struct {
	stations []Station
	scale    RiskScale
}

// NewIndex creates an Index over the given stations. A nil slice selects the
// built-in catalog.
func NewIndex(stations []Station, scale RiskScale) *Index {
	if stations == nil {
		stations = Catalog()
	}
	if scale.Name == "" {
		scale = ProbabilityScale
	}
	return &Index{stations: stations, scale: scale}
}

// Scale returns the scale used to classify aggregates.
func (ix *Index) Scale() RiskScale {
	return ix.scale
}

// Stations returns the indexed stations.
func (ix *Index) Stations() []Station {
	return ix.stations
}

// Station looks up an indexed station by name, ignoring case.
func (ix *Index) Station(name string) (Station, bool) {
	for _, s := range ix.stations {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Station{}, false
}

// NearestStation returns the station closest to the point and its distance.
// Ties resolve to the first station in catalog order. ok is false when the
// index has no stations.
func (ix *Index) NearestStation(lat, lon float64) (station Station, distanceKm float64, ok bool) {
	best := -1
	bestDist := math.Inf(1)
	origin := geo.Point(lat, lon)
	for i, s := range ix.stations {
		d := geo.Distance(origin, s.Point())
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return Station{}, 0, false
	}
	return ix.stations[best], bestDist, true
}

// KNearest returns the min(k, len(records)) records closest to the point,
// ascending by distance. Equal distances keep dataset order.
func KNearest(records []Record, lat, lon float64, k int) []Neighbor {
	if k <= 0 || len(records) == 0 {
		return []Neighbor{}
	}

	neighbors := make([]Neighbor, len(records))
	for i, r := range records {
		neighbors[i] = Neighbor{
			Record:     r,
			DistanceKm: geo.DistanceKm(lat, lon, r.Lat, r.Lon),
		}
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].DistanceKm < neighbors[j].DistanceKm
	})

	if k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// AggregateByStation assigns each record to its nearest station and reduces
// every bucket. Stations without records are omitted. Records keep dataset
// order inside each bucket.
func (ix *Index) AggregateByStation(records []Record) map[string]StationAggregate {
	buckets := make(map[string]*StationAggregate)

	for _, r := range records {
		station, _, ok := ix.NearestStation(r.Lat, r.Lon)
		if !ok {
			break
		}

		agg, exists := buckets[station.Name]
		if !exists {
			agg = &StationAggregate{
				Station:     station,
				MinRisk:     math.Inf(1),
				MaxRisk:     math.Inf(-1),
				ClassCounts: make(map[DangerClass]int),
			}
			buckets[station.Name] = agg
		}

		agg.Records = append(agg.Records, r)
		agg.Count++
		agg.AvgRisk += r.RiskLevel
		agg.MinRisk = math.Min(agg.MinRisk, r.RiskLevel)
		agg.MaxRisk = math.Max(agg.MaxRisk, r.RiskLevel)
		agg.ClassCounts[ix.scale.Classify(r.RiskLevel)]++
	}

	out := make(map[string]StationAggregate, len(buckets))
	for name, agg := range buckets {
		agg.AvgRisk /= float64(agg.Count)
		out[name] = *agg
	}
	return out
}

// OrderedAggregates returns the aggregates in catalog order.
func (ix *Index) OrderedAggregates(aggregates map[string]StationAggregate) []StationAggregate {
	out := make([]StationAggregate, 0, len(aggregates))
	for _, s := range ix.stations {
		if agg, ok := aggregates[s.Name]; ok {
			out = append(out, agg)
		}
	}
	return out
}
