package firerisk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/firerisk"
)

func record(lat, lon, risk float64) firerisk.Record {
	return firerisk.Record{
		ID:        firerisk.RecordID(lat, lon),
		Lat:       lat,
		Lon:       lon,
		RiskLevel: risk,
		Location:  "test",
		Province:  "test",
	}
}

func TestCatalog(t *testing.T) {
	stations := firerisk.Catalog()
	assert.Len(t, stations, 38)

	seen := make(map[string]bool)
	for _, s := range stations {
		assert.False(t, seen[s.Name], "duplicate station %s", s.Name)
		seen[s.Name] = true
		assert.NotEmpty(t, s.Province)
	}

	// Mutating the returned copy must not affect the catalog.
	stations[0].Name = "changed"
	assert.Equal(t, "Madrid", firerisk.Catalog()[0].Name)

	s, ok := firerisk.StationByName("Sevilla")
	require.True(t, ok)
	assert.Equal(t, "Sevilla", s.Province)

	b := firerisk.CatalogBound()
	for _, s := range firerisk.Catalog() {
		assert.True(t, b.Contains(s.Point()), s.Name)
	}
}

func TestNearestStation(t *testing.T) {
	ix := firerisk.NewIndex(nil, firerisk.ProbabilityScale)

	tests := []struct {
		name     string
		lat, lon float64
		want     string
	}{
		{"central Madrid", 40.42, -3.70, "Madrid"},
		{"Getafe", 40.3083, -3.7327, "Madrid"},
		{"Sabadell", 41.5463, 2.1086, "Barcelona"},
		{"Marbella", 36.5101, -4.8824, "Málaga"},
		{"Santiago de Compostela", 42.8782, -8.5448, "A Coruña"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			station, dist, ok := ix.NearestStation(tt.lat, tt.lon)
			require.True(t, ok)
			assert.Equal(t, tt.want, station.Name)
			assert.GreaterOrEqual(t, dist, 0.0)
		})
	}
}

func TestNearestStation_TieResolvesToCatalogOrder(t *testing.T) {
	stations := []firerisk.Station{
		{Name: "north", Lat: 1, Lon: 0, Province: "p"},
		{Name: "south", Lat: -1, Lon: 0, Province: "p"},
	}
	ix := firerisk.NewIndex(stations, firerisk.ProbabilityScale)

	station, _, ok := ix.NearestStation(0, 0)
	require.True(t, ok)
	assert.Equal(t, "north", station.Name)

	reversed := firerisk.NewIndex([]firerisk.Station{stations[1], stations[0]}, firerisk.ProbabilityScale)
	station, _, _ = reversed.NearestStation(0, 0)
	assert.Equal(t, "south", station.Name)
}

func TestNearestStation_EmptyIndex(t *testing.T) {
	ix := firerisk.NewIndex([]firerisk.Station{}, firerisk.ProbabilityScale)
	_, _, ok := ix.NearestStation(40, -3)
	assert.False(t, ok)
}

func TestIndex_Station(t *testing.T) {
	index := firerisk.NewIndex(nil, firerisk.ProbabilityScale)

	s, ok := index.Station("sevilla")
	require.True(t, ok)
	assert.Equal(t, "Sevilla", s.Name)

	_, ok = index.Station("Atlantis")
	assert.False(t, ok)
}

func TestKNearest(t *testing.T) {
	records := []firerisk.Record{
		record(41.0, -3.0, 0.1),
		record(40.0, -3.0, 0.2),
		record(40.5, -3.0, 0.3),
		record(42.0, -3.0, 0.4),
	}

	got := firerisk.KNearest(records, 40.0, -3.0, 3)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.2, got[0].Record.RiskLevel, 1e-9)
	assert.InDelta(t, 0.3, got[1].Record.RiskLevel, 1e-9)
	assert.InDelta(t, 0.1, got[2].Record.RiskLevel, 1e-9)
	assert.Zero(t, got[0].DistanceKm)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].DistanceKm, got[i].DistanceKm)
	}
}

func TestKNearest_KLargerThanDataset(t *testing.T) {
	records := []firerisk.Record{record(40, -3, 0.1), record(41, -3, 0.2)}

	assert.Len(t, firerisk.KNearest(records, 40, -3, 10), 2)
	assert.Empty(t, firerisk.KNearest(records, 40, -3, 0))
	assert.Empty(t, firerisk.KNearest(nil, 40, -3, 5))
}

func TestKNearest_EqualDistancesKeepDatasetOrder(t *testing.T) {
	a := record(40, -3, 0.1)
	a.ID = "a"
	b := record(40, -3, 0.2)
	b.ID = "b"

	got := firerisk.KNearest([]firerisk.Record{a, b}, 41, -3, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Record.ID)
	assert.Equal(t, "b", got[1].Record.ID)
}

func TestAggregateByStation(t *testing.T) {
	ix := firerisk.NewIndex(nil, firerisk.ProbabilityScale)
	records := []firerisk.Record{
		record(40.45, -3.68, 0.1), // Madrid
		record(40.38, -3.75, 0.5), // Madrid
		record(40.40, -3.70, 0.9), // Madrid
		record(41.40, 2.17, 0.65), // Barcelona
	}

	aggs := ix.AggregateByStation(records)
	require.Len(t, aggs, 2)

	madrid := aggs["Madrid"]
	assert.Equal(t, 3, madrid.Count)
	assert.Len(t, madrid.Records, 3)
	assert.InDelta(t, 0.5, madrid.AvgRisk, 1e-9)
	assert.InDelta(t, 0.1, madrid.MinRisk, 1e-9)
	assert.InDelta(t, 0.9, madrid.MaxRisk, 1e-9)
	assert.Equal(t, 1, madrid.ClassCounts[firerisk.DangerLow])
	assert.Equal(t, 1, madrid.ClassCounts[firerisk.DangerHigh])
	assert.Equal(t, 1, madrid.ClassCounts[firerisk.DangerExtreme])

	bcn := aggs["Barcelona"]
	assert.Equal(t, 1, bcn.Count)
	assert.Equal(t, 1, bcn.ClassCounts[firerisk.DangerVeryHigh])

	ordered := ix.OrderedAggregates(aggs)
	require.Len(t, ordered, 2)
	assert.Equal(t, "Madrid", ordered[0].Station.Name)
	assert.Equal(t, "Barcelona", ordered[1].Station.Name)
}

func TestAggregateByStation_Deterministic(t *testing.T) {
	ix := firerisk.NewIndex(nil, firerisk.ProbabilityScale)
	batch, err := firerisk.FallbackBatch(firerisk.ProbabilityScale)
	require.NoError(t, err)

	first := ix.AggregateByStation(batch.Records)
	second := ix.AggregateByStation(batch.Records)
	assert.Equal(t, first, second)

	total := 0
	for _, agg := range first {
		total += agg.Count
	}
	assert.Equal(t, len(batch.Records), total)
}

func TestRiskScale_Classify(t *testing.T) {
	tests := []struct {
		scale firerisk.RiskScale
		value float64
		want  firerisk.DangerClass
	}{
		{firerisk.ProbabilityScale, 0, firerisk.DangerLow},
		{firerisk.ProbabilityScale, 0.2, firerisk.DangerModerate},
		{firerisk.ProbabilityScale, 0.79, firerisk.DangerVeryHigh},
		{firerisk.ProbabilityScale, 1, firerisk.DangerExtreme},
		{firerisk.FWIScale, 5.1, firerisk.DangerLow},
		{firerisk.FWIScale, 38, firerisk.DangerExtreme},
		{firerisk.FWIScale, 60, firerisk.DangerVeryExtreme},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.scale.Classify(tt.value), "%s %v", tt.scale.Name, tt.value)
	}

	assert.Len(t, firerisk.ProbabilityScale.Classes(), 5)
	assert.Len(t, firerisk.FWIScale.Classes(), 6)
}

func TestScaleByName(t *testing.T) {
	s, err := firerisk.ScaleByName("")
	require.NoError(t, err)
	assert.Equal(t, "probability", s.Name)

	s, err = firerisk.ScaleByName(" FWI ")
	require.NoError(t, err)
	assert.Equal(t, "fwi", s.Name)

	_, err = firerisk.ScaleByName("kelvin")
	assert.Error(t, err)
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "40.417,-3.704", firerisk.RecordID(40.4168, -3.7038))
	assert.Equal(t, "0.000,0.000", firerisk.RecordID(-0.0001, 0.0004))
}

func TestCompactRoundTripDropsIndices(t *testing.T) {
	fwi := 10.0
	r := record(40, -3, 0.5)
	r.Indices = &firerisk.Indices{FWI: &fwi}
	r.Coefficients = map[string]float64{"x": 1}

	back := r.Compact().Expand()
	assert.Nil(t, back.Indices)
	assert.Nil(t, back.Coefficients)
	assert.Equal(t, r.ID, back.ID)
	assert.Equal(t, r.RiskLevel, back.RiskLevel)
}
