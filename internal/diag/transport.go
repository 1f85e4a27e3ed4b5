package diag

import "math"

// Leg is the travel cost between two locations.
type Leg struct {
	Distance float64
	Duration float64
}

// Transport answers travel costs for a routing profile. ok is false when no path exists.
type Transport interface {
	Leg(profile string, from, to Location) (leg Leg, ok bool)
}

// Haversine is a great-circle transport with a constant speed per profile.
type Haversine struct {
	SpeedKph float64
	// Profiles overrides SpeedKph for named profiles.
	Profiles map[string]float64
}

func (h Haversine) Leg(profile string, from, to Location) (Leg, bool) {
	if !validLocation(from) || !validLocation(to) {
		return Leg{}, false
	}
	speed := h.SpeedKph
	if v, ok := h.Profiles[profile]; ok {
		speed = v
	}
	if speed <= 0 {
		speed = 50
	}
	d := haversineMeters(from.Lat, from.Lng, to.Lat, to.Lng)
	return Leg{Distance: d, Duration: d / (speed / 3.6)}, true
}

func validLocation(l Location) bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) || math.IsInf(l.Lat, 0) || math.IsInf(l.Lng, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// MatrixProfile holds routing matrices indexed like Matrix.Locations.
// A negative, NaN or infinite entry means no path.
type MatrixProfile struct {
	Distances [][]float64
	Durations [][]float64
}

// Matrix is a transport backed by precomputed distance/duration matrices.
type Matrix struct {
	Locations []Location
	Profiles  map[string]MatrixProfile

	index map[Location]int
}

// NewMatrix indexes locations for lookups.
func NewMatrix(locations []Location, profiles map[string]MatrixProfile) *Matrix {
	m := &Matrix{Locations: locations, Profiles: profiles, index: make(map[Location]int, len(locations))}
	for i, l := range locations {
		if _, dup := m.index[l]; !dup {
			m.index[l] = i
		}
	}
	return m
}

func (m *Matrix) Leg(profile string, from, to Location) (Leg, bool) {
	pr, ok := m.Profiles[profile]
	if !ok {
		return Leg{}, false
	}
	i, ok := m.index[from]
	if !ok {
		return Leg{}, false
	}
	j, ok := m.index[to]
	if !ok {
		return Leg{}, false
	}
	d, ok := cell(pr.Distances, i, j)
	if !ok {
		return Leg{}, false
	}
	t, ok := cell(pr.Durations, i, j)
	if !ok {
		return Leg{}, false
	}
	return Leg{Distance: d, Duration: t}, true
}

func cell(mx [][]float64, i, j int) (float64, bool) {
	if i >= len(mx) || j >= len(mx[i]) {
		return 0, false
	}
	v := mx[i][j]
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
