package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/api/models"
	"github.com/firewatch/firewatch/internal/api/response"
	"github.com/firewatch/firewatch/internal/datasync"
	"github.com/firewatch/firewatch/internal/firerisk"
	"github.com/firewatch/firewatch/pkg/geo"
)

const (
	defaultNeighbors = 5
	maxNeighbors     = 100
)

// FireRiskController is the part of the sync controller the API uses.
type FireRiskController interface {
	StateSource
	Refetch() error
	Index() *firerisk.Index
}

// FireRiskHandler handles dataset, station and nearest-neighbor endpoints.
type FireRiskHandler struct {
	ctrl FireRiskController
}

// NewFireRiskHandler creates a new FireRiskHandler.
func NewFireRiskHandler(ctrl FireRiskController) *FireRiskHandler {
	return &FireRiskHandler{ctrl: ctrl}
}

// GetState handles GET /v1/fire-risk - the published dataset state.
func (h *FireRiskHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state := h.ctrl.State()

	out := models.FireRiskState{
		Status:    string(state.Status),
		Data:      state.Data,
		Loading:   state.Loading,
		ErrorCode: state.ErrorCode,
		ModelInfo: state.ModelInfo,
		Source:    string(state.Source),
		Stale:     state.Stale,
		CachedAt:  models.TimestampPtr(state.CachedAt),
		Count:     len(state.Data),
		Report:    state.Report,
		Version:   state.Version,
	}
	if out.Data == nil {
		out.Data = []firerisk.Record{}
	}
	if state.Error != "" {
		msg := state.Error
		out.Error = &msg
	}
	if state.LastUpdated != "" {
		ts := state.LastUpdated
		out.LastUpdated = &ts
	}
	if n := state.Notification; n != nil {
		out.Notice = &models.Notification{
			Message:           n.Message,
			BatchTimestamp:    n.BatchTimestamp,
			PreviousTimestamp: n.PreviousTimestamp,
			CreatedAt:         models.Timestamp(n.CreatedAt),
		}
	}

	response.JSON(w, r, http.StatusOK, out)
}

// Refetch handles POST /v1/fire-risk/refetch - start a refresh cycle.
func (h *FireRiskHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	err := h.ctrl.Refetch()
	switch {
	case errors.Is(err, datasync.ErrCycleInFlight):
		response.Conflict(w, r, "a refresh cycle is already in flight")
		return
	case errors.Is(err, datasync.ErrStopped):
		response.ServiceUnavailable(w, r, "sync controller is stopped")
		return
	case err != nil:
		response.InternalError(w, r, "could not start refresh cycle")
		return
	}

	response.Accepted(w, r, "/v1/fire-risk", models.RefetchAccepted{
		Status:      "started",
		RequestedBy: middleware.GetOperator(r.Context()),
	})
}

// ListStations handles GET /v1/fire-risk/stations - the station catalog.
func (h *FireRiskHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations := h.ctrl.Index().Stations()

	out := models.StationList{Stations: make([]models.Station, 0, len(stations))}
	var bound orb.Bound
	for i, s := range stations {
		out.Stations = append(out.Stations, models.StationFromCatalog(s))
		if i == 0 {
			bound = orb.Bound{Min: s.Point(), Max: s.Point()}
		} else {
			bound = bound.Extend(s.Point())
		}
	}
	if len(stations) > 0 {
		out.Bounds = models.GeoBox{
			MinLat: bound.Min.Lat(),
			MinLon: bound.Min.Lon(),
			MaxLat: bound.Max.Lat(),
			MaxLon: bound.Max.Lon(),
		}
	}

	response.JSON(w, r, http.StatusOK, out)
}

// ListAggregates handles GET /v1/fire-risk/stations/aggregate - per-station
// risk summaries over the published dataset.
func (h *FireRiskHandler) ListAggregates(w http.ResponseWriter, r *http.Request) {
	state := h.ctrl.State()
	index := h.ctrl.Index()
	scale := index.Scale()

	ordered := index.OrderedAggregates(index.AggregateByStation(state.Data))

	out := models.AggregateList{
		Scale:      scale.Name,
		Aggregates: make([]models.StationAggregate, 0, len(ordered)),
	}
	if state.LastUpdated != "" {
		ts := state.LastUpdated
		out.LastUpdated = &ts
	}
	for _, agg := range ordered {
		out.Aggregates = append(out.Aggregates, aggregate(scale, agg))
	}

	response.JSON(w, r, http.StatusOK, out)
}

// GetStation handles GET /v1/fire-risk/stations/{name} - one station and the
// records whose nearest station it is.
func (h *FireRiskHandler) GetStation(w http.ResponseWriter, r *http.Request) {
	index := h.ctrl.Index()
	station, ok := index.Station(chi.URLParam(r, "name"))
	if !ok {
		response.NotFound(w, r, "unknown station")
		return
	}

	out := models.StationDetail{
		StationAggregate: models.StationAggregate{
			Station:     models.StationFromCatalog(station),
			ClassCounts: map[string]int{},
		},
		Records: []firerisk.Record{},
	}
	if agg, found := index.AggregateByStation(h.ctrl.State().Data)[station.Name]; found {
		out.StationAggregate = aggregate(index.Scale(), agg)
		out.Records = agg.Records
	}

	response.JSON(w, r, http.StatusOK, out)
}

// Nearest handles GET /v1/fire-risk/nearest?lat=&lon=&k= - the k closest
// records and the nearest station to a point.
func (h *FireRiskHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	lat, lon, fieldErrors := parsePoint(r)
	k := defaultNeighbors
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxNeighbors {
			fieldErrors = append(fieldErrors, models.FieldError{
				Field:   "k",
				Message: "must be an integer between 1 and " + strconv.Itoa(maxNeighbors),
				Code:    "OUT_OF_RANGE",
			})
		} else {
			k = n
		}
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid nearest query", fieldErrors)
		return
	}

	index := h.ctrl.Index()
	state := h.ctrl.State()

	out := models.NearestResponse{
		Query:          models.Point{Lat: lat, Lon: lon},
		NearestStation: nearestStation(index, lat, lon),
		Neighbors:      neighbors(index.Scale(), firerisk.KNearest(state.Data, lat, lon, k)),
	}
	response.JSON(w, r, http.StatusOK, out)
}

// GetObserver handles GET /v1/observer - the resolved observer location.
func (h *FireRiskHandler) GetObserver(w http.ResponseWriter, r *http.Request) {
	state := h.ctrl.State()

	out := models.ObserverResponse{}
	if state.ObserverError != "" {
		msg := state.ObserverError
		out.Error = &msg
	}
	if obs := state.Observer; obs != nil {
		resolvedAt := obs.ResolvedAt
		o := &models.Observer{
			Lat:        obs.Lat,
			Lon:        obs.Lon,
			City:       obs.City,
			Source:     obs.Source,
			ResolvedAt: models.TimestampPtr(&resolvedAt),
			Nearby:     neighbors(h.ctrl.Index().Scale(), state.Nearest),
		}
		if m := state.NearestStation; m != nil {
			o.NearestStation = &models.NearestStation{
				Station:    models.StationFromCatalog(m.Station),
				DistanceKm: m.DistanceKm,
			}
		}
		out.Observer = o
	}

	response.JSON(w, r, http.StatusOK, out)
}

func parsePoint(r *http.Request) (lat, lon float64, fieldErrors []models.FieldError) {
	q := r.URL.Query()

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)

	if latErr != nil || lat < -90 || lat > 90 {
		fieldErrors = append(fieldErrors, models.FieldError{
			Field:   "lat",
			Message: "must be a number between -90 and 90",
			Code:    "OUT_OF_RANGE",
		})
	}
	if lonErr != nil || lon < -180 || lon > 180 {
		fieldErrors = append(fieldErrors, models.FieldError{
			Field:   "lon",
			Message: "must be a number between -180 and 180",
			Code:    "OUT_OF_RANGE",
		})
	}
	if len(fieldErrors) == 0 && !geo.ValidLatLon(lat, lon) {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "lat", Message: "not a finite coordinate", Code: "INVALID"})
	}
	return lat, lon, fieldErrors
}

func nearestStation(index *firerisk.Index, lat, lon float64) *models.NearestStation {
	station, dist, ok := index.NearestStation(lat, lon)
	if !ok {
		return nil
	}
	return &models.NearestStation{Station: models.StationFromCatalog(station), DistanceKm: dist}
}

func aggregate(scale firerisk.RiskScale, agg firerisk.StationAggregate) models.StationAggregate {
	counts := make(map[string]int, len(agg.ClassCounts))
	for class, n := range agg.ClassCounts {
		counts[string(class)] = n
	}
	return models.StationAggregate{
		Station:     models.StationFromCatalog(agg.Station),
		Count:       agg.Count,
		AvgRisk:     agg.AvgRisk,
		MaxRisk:     agg.MaxRisk,
		MinRisk:     agg.MinRisk,
		ClassCounts: counts,
		DangerClass: string(scale.Classify(agg.MaxRisk)),
	}
}

func neighbors(scale firerisk.RiskScale, in []firerisk.Neighbor) []models.Neighbor {
	out := make([]models.Neighbor, 0, len(in))
	for _, n := range in {
		out = append(out, models.Neighbor{
			Record:      n.Record,
			DistanceKm:  n.DistanceKm,
			DangerClass: string(scale.Classify(n.Record.RiskLevel)),
		})
	}
	return out
}
