package firerisk

import (
	"github.com/paulmach/orb"

	"github.com/firewatch/firewatch/pkg/geo"
)

// Station is a fixed reference point used for default markers and for
// binning the live dataset geographically.
type Station struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Province string  `json:"province"`
}

// Point returns the station location as an orb point.
func (s Station) Point() orb.Point {
	return geo.Point(s.Lat, s.Lon)
}

// stationCatalog is ordered; nearest-station ties resolve to the earlier entry.
var stationCatalog = []Station{
	{Name: "Madrid", Lat: 40.4168, Lon: -3.7038, Province: "Madrid"},
	{Name: "Barcelona", Lat: 41.3874, Lon: 2.1686, Province: "Barcelona"},
	{Name: "Valencia", Lat: 39.4699, Lon: -0.3763, Province: "Valencia"},
	{Name: "Sevilla", Lat: 37.3891, Lon: -5.9845, Province: "Sevilla"},
	{Name: "Zaragoza", Lat: 41.6488, Lon: -0.8891, Province: "Zaragoza"},
	{Name: "Málaga", Lat: 36.7213, Lon: -4.4214, Province: "Málaga"},
	{Name: "Murcia", Lat: 37.9922, Lon: -1.1307, Province: "Murcia"},
	{Name: "Palma", Lat: 39.5696, Lon: 2.6502, Province: "Illes Balears"},
	{Name: "Bilbao", Lat: 43.2630, Lon: -2.9350, Province: "Bizkaia"},
	{Name: "Alicante", Lat: 38.3452, Lon: -0.4810, Province: "Alicante"},
	{Name: "Córdoba", Lat: 37.8882, Lon: -4.7794, Province: "Córdoba"},
	{Name: "Valladolid", Lat: 41.6523, Lon: -4.7245, Province: "Valladolid"},
	{Name: "Vigo", Lat: 42.2406, Lon: -8.7207, Province: "Pontevedra"},
	{Name: "Gijón", Lat: 43.5322, Lon: -5.6611, Province: "Asturias"},
	{Name: "A Coruña", Lat: 43.3623, Lon: -8.4115, Province: "A Coruña"},
	{Name: "Granada", Lat: 37.1773, Lon: -3.5986, Province: "Granada"},
	{Name: "Vitoria-Gasteiz", Lat: 42.8467, Lon: -2.6716, Province: "Araba"},
	{Name: "Oviedo", Lat: 43.3619, Lon: -5.8494, Province: "Asturias"},
	{Name: "Pamplona", Lat: 42.8125, Lon: -1.6458, Province: "Navarra"},
	{Name: "Almería", Lat: 36.8340, Lon: -2.4637, Province: "Almería"},
	{Name: "San Sebastián", Lat: 43.3183, Lon: -1.9812, Province: "Gipuzkoa"},
	{Name: "Santander", Lat: 43.4623, Lon: -3.8099, Province: "Cantabria"},
	{Name: "Burgos", Lat: 42.3439, Lon: -3.6969, Province: "Burgos"},
	{Name: "Albacete", Lat: 38.9943, Lon: -1.8585, Province: "Albacete"},
	{Name: "Castellón", Lat: 39.9864, Lon: -0.0513, Province: "Castellón"},
	{Name: "Logroño", Lat: 42.4627, Lon: -2.4450, Province: "La Rioja"},
	{Name: "Badajoz", Lat: 38.8794, Lon: -6.9707, Province: "Badajoz"},
	{Name: "Salamanca", Lat: 40.9701, Lon: -5.6635, Province: "Salamanca"},
	{Name: "Huelva", Lat: 37.2614, Lon: -6.9447, Province: "Huelva"},
	{Name: "Lleida", Lat: 41.6176, Lon: 0.6200, Province: "Lleida"},
	{Name: "Tarragona", Lat: 41.1189, Lon: 1.2445, Province: "Tarragona"},
	{Name: "León", Lat: 42.5987, Lon: -5.5671, Province: "León"},
	{Name: "Cádiz", Lat: 36.5271, Lon: -6.2886, Province: "Cádiz"},
	{Name: "Jaén", Lat: 37.7796, Lon: -3.7849, Province: "Jaén"},
	{Name: "Ourense", Lat: 42.3358, Lon: -7.8639, Province: "Ourense"},
	{Name: "Girona", Lat: 41.9794, Lon: 2.8214, Province: "Girona"},
	{Name: "Lugo", Lat: 43.0097, Lon: -7.5568, Province: "Lugo"},
	{Name: "Cáceres", Lat: 39.4753, Lon: -6.3724, Province: "Cáceres"},
}

// Catalog returns a copy of the station catalog in catalog order.
func Catalog() []Station {
	out := make([]Station, len(stationCatalog))
	copy(out, stationCatalog)
	return out
}

// StationByName looks up a catalog station by exact name.
func StationByName(name string) (Station, bool) {
	for _, s := range stationCatalog {
		if s.Name == name {
			return s, true
		}
	}
	return Station{}, false
}

// CatalogBound is the bounding box covering every station.
func CatalogBound() orb.Bound {
	b := orb.Bound{Min: stationCatalog[0].Point(), Max: stationCatalog[0].Point()}
	for _, s := range stationCatalog[1:] {
		b = b.Extend(s.Point())
	}
	return b
}
