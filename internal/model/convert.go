package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"vrpdiag/internal/diag"
)

// ErrInvalid wraps every malformed wire value.
var ErrInvalid = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func parseTime(field, s string) (float64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, invalid("%s: %q is not RFC3339", field, s)
	}
	return float64(t.UnixNano()) / 1e9, nil
}

// FormatTime renders seconds since epoch as RFC3339 in UTC.
func FormatTime(sec float64) string {
	if math.IsInf(sec, 0) || math.IsNaN(sec) {
		return ""
	}
	return time.Unix(0, int64(sec*1e9)).UTC().Format(time.RFC3339)
}

// ToDiag converts the window. Malformed order (end before start) is kept: the
// checkers report it as not evaluable rather than rejecting the request.
func (w TimeWindow) ToDiag(field string) (diag.TimeWindow, error) {
	start, err := parseTime(field+".start", w.Start)
	if err != nil {
		return diag.TimeWindow{}, err
	}
	end, err := parseTime(field+".end", w.End)
	if err != nil {
		return diag.TimeWindow{}, err
	}
	return diag.TimeWindow{Start: start, End: end}, nil
}

func (g GeoPoint) ToDiag() diag.Location { return diag.Location{Lat: g.Lat, Lng: g.Lng} }

func (j JobIn) ToDiag() (diag.Job, error) {
	if strings.TrimSpace(j.ID) == "" {
		return diag.Job{}, invalid("job id required")
	}
	if j.Location == nil {
		return diag.Job{}, invalid("job %s: location required", j.ID)
	}
	if j.ServiceTimeSec < 0 {
		return diag.Job{}, invalid("job %s: serviceTimeSec must be >= 0", j.ID)
	}
	if j.Priority < 0 {
		return diag.Job{}, invalid("job %s: priority must be >= 0", j.ID)
	}
	out := diag.Job{
		ID:            j.ID,
		Skills:        j.RequiredSkills,
		Demand:        j.Demand,
		Location:      j.Location.ToDiag(),
		ServiceSec:    float64(j.ServiceTimeSec),
		Priority:      j.Priority,
		Areas:         j.Areas,
		BreakEligible: j.BreakEligible,
	}
	switch strings.ToLower(j.Kind) {
	case "", "delivery":
		out.Kind = diag.Delivery
	case "pickup":
		out.Kind = diag.Pickup
	default:
		return diag.Job{}, invalid("job %s: unknown kind %q", j.ID, j.Kind)
	}
	for i, w := range j.TimeWindows {
		tw, err := w.ToDiag(fmt.Sprintf("job %s timeWindows[%d]", j.ID, i))
		if err != nil {
			return diag.Job{}, err
		}
		out.TimeWindows = append(out.TimeWindows, tw)
	}
	return out, nil
}

func (v VehicleIn) ToDiag() (diag.Vehicle, error) {
	if strings.TrimSpace(v.ID) == "" {
		return diag.Vehicle{}, invalid("vehicle id required")
	}
	if v.MaxDistanceM < 0 || v.MaxDurationSec < 0 || v.MaxTourSize < 0 {
		return diag.Vehicle{}, invalid("vehicle %s: limits must be >= 0", v.ID)
	}
	out := diag.Vehicle{
		ID:          v.ID,
		Profile:     v.Profile,
		Skills:      v.Skills,
		Capacity:    v.Capacity,
		Start:       v.Start.ToDiag(),
		MaxDistance: v.MaxDistanceM,
		MaxDuration: v.MaxDurationSec,
		MaxTourSize: v.MaxTourSize,
		Areas:       v.Areas,
	}
	if v.End != nil {
		end := v.End.ToDiag()
		out.End = &end
	}
	if v.Shift != nil {
		sh, err := v.Shift.ToDiag("vehicle " + v.ID + " shift")
		if err != nil {
			return diag.Vehicle{}, err
		}
		out.Shift = sh
	}
	if v.Dispatch != nil {
		d := &diag.Dispatch{Location: v.Dispatch.Location.ToDiag(), DurationSec: v.Dispatch.DurationSec}
		if v.Dispatch.Window != nil {
			w, err := v.Dispatch.Window.ToDiag("vehicle " + v.ID + " dispatch.window")
			if err != nil {
				return diag.Vehicle{}, err
			}
			d.Window = w
		} else {
			d.Window = diag.TimeWindow{Start: math.Inf(-1), End: math.Inf(1)}
		}
		out.Dispatch = d
	}
	for i, b := range v.Breaks {
		w, err := b.Window.ToDiag(fmt.Sprintf("vehicle %s breaks[%d].window", v.ID, i))
		if err != nil {
			return diag.Vehicle{}, err
		}
		if b.DurationSec < 0 {
			return diag.Vehicle{}, invalid("vehicle %s breaks[%d]: durationSec must be >= 0", v.ID, i)
		}
		out.Breaks = append(out.Breaks, diag.Break{Window: w, DurationSec: b.DurationSec})
	}
	return out, nil
}

func (r RelationIn) ToDiag() (diag.Relation, error) {
	out := diag.Relation{VehicleID: r.VehicleID, JobIDs: r.JobIDs}
	switch strings.ToLower(r.Type) {
	case "", "any":
		out.Type = diag.RelationAny
	case "sequence":
		out.Type = diag.RelationSequence
	case "strict":
		out.Type = diag.RelationStrict
	default:
		return diag.Relation{}, invalid("relation type %q", r.Type)
	}
	return out, nil
}

func (a AreaIn) ToDiag() (diag.Area, error) {
	if a.ID == "" {
		return diag.Area{}, invalid("area id required")
	}
	out := diag.Area{ID: a.ID, RadiusM: a.RadiusM}
	switch {
	case a.Center != nil:
		if a.RadiusM <= 0 {
			return diag.Area{}, invalid("area %s: radiusM must be > 0", a.ID)
		}
		c := a.Center.ToDiag()
		out.Center = &c
	case len(a.Polygon) >= 3:
		for _, p := range a.Polygon {
			out.Polygon = append(out.Polygon, p.ToDiag())
		}
	default:
		return diag.Area{}, invalid("area %s: needs a center or a polygon of 3+ points", a.ID)
	}
	return out, nil
}

// ToDiag converts the problem. Cross references (relation jobs, vehicle areas,
// route vehicles) are left to the diagnostics validation.
func (p ProblemIn) ToDiag() (*diag.Problem, error) {
	if len(p.Vehicles) == 0 {
		return nil, invalid("at least one vehicle required")
	}
	out := &diag.Problem{}
	for _, j := range p.Jobs {
		dj, err := j.ToDiag()
		if err != nil {
			return nil, err
		}
		out.Jobs = append(out.Jobs, dj)
	}
	for _, v := range p.Vehicles {
		dv, err := v.ToDiag()
		if err != nil {
			return nil, err
		}
		out.Vehicles = append(out.Vehicles, dv)
	}
	for _, r := range p.Relations {
		dr, err := r.ToDiag()
		if err != nil {
			return nil, err
		}
		out.Relations = append(out.Relations, dr)
	}
	for _, a := range p.Areas {
		da, err := a.ToDiag()
		if err != nil {
			return nil, err
		}
		out.Areas = append(out.Areas, da)
	}
	return out, nil
}

// Build returns the transport the request asks for, haversine by default.
func (t *TransportIn) Build(defaultSpeedKph float64) (diag.Transport, error) {
	if t == nil {
		return diag.Haversine{SpeedKph: defaultSpeedKph}, nil
	}
	if t.Matrix == nil {
		speed := t.SpeedKph
		if speed == 0 {
			speed = defaultSpeedKph
		}
		if speed < 0 {
			return nil, invalid("transport speedKph must be > 0")
		}
		return diag.Haversine{SpeedKph: speed, Profiles: t.Profiles}, nil
	}
	n := len(t.Matrix.Locations)
	locs := make([]diag.Location, n)
	for i, l := range t.Matrix.Locations {
		locs[i] = l.ToDiag()
	}
	profiles := make(map[string]diag.MatrixProfile, len(t.Matrix.Profiles))
	for name, mp := range t.Matrix.Profiles {
		if !square(mp.Distances, n) || !square(mp.Durations, n) {
			return nil, invalid("transport matrix %q must be %dx%d", name, n, n)
		}
		profiles[name] = diag.MatrixProfile{Distances: mp.Distances, Durations: mp.Durations}
	}
	return diag.NewMatrix(locs, profiles), nil
}

func square(m [][]float64, n int) bool {
	if len(m) != n {
		return false
	}
	for _, row := range m {
		if len(row) != n {
			return false
		}
	}
	return true
}

func (s SolutionIn) ToDiag() (*diag.Solution, error) {
	out := &diag.Solution{Unassigned: s.Unassigned}
	for _, r := range s.Routes {
		if r.VehicleID == "" {
			return nil, invalid("route vehicleId required")
		}
		dr := diag.Route{VehicleID: r.VehicleID, Stops: make([]diag.Stop, len(r.Stops))}
		for i, st := range r.Stops {
			dr.Stops[i] = diag.Stop{JobID: st.JobID}
		}
		out.Routes = append(out.Routes, dr)
	}
	if len(s.Attempts) > 0 {
		out.Attempts = make(map[string][]diag.ViolationRecord, len(s.Attempts))
		for jobID, list := range s.Attempts {
			for _, a := range list {
				code, err := diag.ParseCode(a.Code)
				if err != nil {
					return nil, invalid("attempts[%s]: %v", jobID, err)
				}
				out.Attempts[jobID] = append(out.Attempts[jobID], diag.ViolationRecord{
					Code:      code,
					Evidence:  diag.Evidence{Severity: a.Severity},
					VehicleID: a.VehicleID,
					Position:  a.Position,
				})
			}
		}
	}
	return out, nil
}

// Apply overlays per-request options on a base configuration.
func (o *DiagOptions) Apply(base diag.Options) (diag.Options, error) {
	if o == nil {
		return base, nil
	}
	if o.Mode != "" {
		m, err := diag.ParseMode(o.Mode)
		if err != nil {
			return base, invalid("%v", err)
		}
		base.Mode = m
	}
	if o.TieBreak != "" {
		tb, err := diag.ParseTieBreak(o.TieBreak)
		if err != nil {
			return base, invalid("%v", err)
		}
		base.TieBreak = tb
	}
	if o.IncludeDetails != nil {
		base.IncludeDetails = *o.IncludeDetails
	}
	if o.UseSearchEvidence != nil {
		base.UseSearchEvidence = *o.UseSearchEvidence
	}
	return base, nil
}

// Options converts a stored tenant configuration.
func (c DiagConfig) Options() (diag.Options, error) {
	o := diag.DefaultOptions()
	return (&DiagOptions{
		Mode:              c.Mode,
		TieBreak:          c.TieBreak,
		IncludeDetails:    &c.IncludeDetails,
		UseSearchEvidence: &c.UseSearchEvidence,
	}).Apply(o)
}

func RoutesOut(routes []diag.Route) []RouteOut {
	out := make([]RouteOut, 0, len(routes))
	for _, r := range routes {
		ro := RouteOut{VehicleID: r.VehicleID, Stops: make([]StopOut, len(r.Stops))}
		for i, s := range r.Stops {
			ro.Stops[i] = StopOut{
				JobID:     s.JobID,
				Arrival:   FormatTime(s.Arrival),
				Departure: FormatTime(s.Departure),
				Load:      s.Load,
				DistanceM: s.Distance,
			}
		}
		out = append(out, ro)
	}
	return out
}

// AttemptsOut renders optimizer evidence in the shape SolutionIn accepts.
func AttemptsOut(attempts map[string][]diag.ViolationRecord) map[string][]AttemptIn {
	if len(attempts) == 0 {
		return nil
	}
	out := make(map[string][]AttemptIn, len(attempts))
	for id, recs := range attempts {
		for _, r := range recs {
			out[id] = append(out[id], AttemptIn{Code: r.Code.String(), VehicleID: r.VehicleID, Position: r.Position, Severity: r.Evidence.Severity})
		}
	}
	return out
}
