package model

import (
	"time"

	"vrpdiag/internal/diag"
	"vrpdiag/internal/opt"
)

// Wire types. Times are RFC3339 strings, distances meters, durations seconds.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type JobIn struct {
	ID             string       `json:"id"`
	Kind           string       `json:"kind,omitempty"` // delivery (default), pickup
	Location       *GeoPoint    `json:"location"`
	TimeWindows    []TimeWindow `json:"timeWindows,omitempty"`
	ServiceTimeSec int          `json:"serviceTimeSec,omitempty"`
	Demand         []float64    `json:"demand,omitempty"`
	RequiredSkills []string     `json:"requiredSkills,omitempty"`
	Priority       int          `json:"priority,omitempty"`
	Areas          []string     `json:"areas,omitempty"`
	BreakEligible  *bool        `json:"breakEligible,omitempty"`
}

type VehicleIn struct {
	ID             string      `json:"id"`
	Profile        string      `json:"profile,omitempty"`
	Skills         []string    `json:"skills,omitempty"`
	Capacity       []float64   `json:"capacity,omitempty"`
	Shift          *TimeWindow `json:"shift,omitempty"`
	Start          GeoPoint    `json:"start"`
	End            *GeoPoint   `json:"end,omitempty"`
	MaxDistanceM   float64     `json:"maxDistanceM,omitempty"`
	MaxDurationSec float64     `json:"maxDurationSec,omitempty"`
	MaxTourSize    int         `json:"maxTourSize,omitempty"`
	Dispatch       *DispatchIn `json:"dispatch,omitempty"`
	Breaks         []BreakIn   `json:"breaks,omitempty"`
	Areas          []string    `json:"areas,omitempty"`
}

type DispatchIn struct {
	Location    GeoPoint    `json:"location"`
	Window      *TimeWindow `json:"window,omitempty"`
	DurationSec float64     `json:"durationSec,omitempty"`
}

type BreakIn struct {
	Window      TimeWindow `json:"window"`
	DurationSec float64    `json:"durationSec"`
}

type RelationIn struct {
	Type      string   `json:"type"` // any, sequence, strict
	VehicleID string   `json:"vehicleId"`
	JobIDs    []string `json:"jobIds"`
}

type AreaIn struct {
	ID      string     `json:"id"`
	Polygon []GeoPoint `json:"polygon,omitempty"`
	Center  *GeoPoint  `json:"center,omitempty"`
	RadiusM float64    `json:"radiusM,omitempty"`
}

// TransportIn selects travel costs: a routing matrix when given, otherwise
// haversine distances at a constant speed.
type TransportIn struct {
	SpeedKph float64            `json:"speedKph,omitempty"`
	Profiles map[string]float64 `json:"profiles,omitempty"`
	Matrix   *MatrixIn          `json:"matrix,omitempty"`
}

type MatrixIn struct {
	Locations []GeoPoint                 `json:"locations"`
	Profiles  map[string]MatrixProfileIn `json:"profiles"`
}

type MatrixProfileIn struct {
	Distances [][]float64 `json:"distances"`
	Durations [][]float64 `json:"durations"`
}

type ProblemIn struct {
	Jobs      []JobIn      `json:"jobs"`
	Vehicles  []VehicleIn  `json:"vehicles"`
	Relations []RelationIn `json:"relations,omitempty"`
	Areas     []AreaIn     `json:"areas,omitempty"`
	Transport *TransportIn `json:"transport,omitempty"`
}

type RouteStopIn struct {
	JobID string `json:"jobId"`
}

type RouteIn struct {
	VehicleID string        `json:"vehicleId"`
	Stops     []RouteStopIn `json:"stops"`
}

// AttemptIn is one violation the optimizer observed while trying to place a job.
type AttemptIn struct {
	Code      string  `json:"code"`
	VehicleID string  `json:"vehicleId"`
	Position  int     `json:"position"`
	Severity  float64 `json:"severity,omitempty"`
}

type SolutionIn struct {
	Routes     []RouteIn              `json:"routes"`
	Unassigned []string               `json:"unassigned"`
	Attempts   map[string][]AttemptIn `json:"attempts,omitempty"`
}

// DiagOptions overrides the tenant's diagnostics configuration for one request.
type DiagOptions struct {
	Mode              string `json:"mode,omitempty"`
	TieBreak          string `json:"tieBreak,omitempty"`
	IncludeDetails    *bool  `json:"includeDetails,omitempty"`
	UseSearchEvidence *bool  `json:"useSearchEvidence,omitempty"`
}

type DiagnosticsRequest struct {
	Problem  ProblemIn    `json:"problem"`
	Solution SolutionIn   `json:"solution"`
	Options  *DiagOptions `json:"options,omitempty"`
}

type OptimizeRequest struct {
	Problem          ProblemIn          `json:"problem"`
	TimeBudgetMs     int                `json:"timeBudgetMs,omitempty"`
	MaxIterations    int                `json:"maxIterations,omitempty"`
	Seed             int64              `json:"seed,omitempty"`
	InitTemp         float64            `json:"initTemp,omitempty"`
	Cooling          float64            `json:"cooling,omitempty"`
	RemovalWeights   []float64          `json:"removalWeights,omitempty"`
	InsertionWeights []float64          `json:"insertionWeights,omitempty"`
	Objectives       map[string]float64 `json:"objectives,omitempty"`
	Options          *DiagOptions       `json:"options,omitempty"`
}

type StopOut struct {
	JobID     string    `json:"jobId"`
	Arrival   string    `json:"arrival"`
	Departure string    `json:"departure"`
	Load      []float64 `json:"load,omitempty"`
	DistanceM float64   `json:"distanceM"`
}

type RouteOut struct {
	VehicleID string    `json:"vehicleId"`
	Stops     []StopOut `json:"stops"`
}

// DiagConfig is the per-tenant diagnostics configuration.
type DiagConfig struct {
	Mode              string `json:"mode"`
	TieBreak          string `json:"tieBreak"`
	IncludeDetails    bool   `json:"includeDetails"`
	UseSearchEvidence bool   `json:"useSearchEvidence"`
}

// Report is a persisted diagnostics run.
type Report struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenantId"`
	Source     string       `json:"source"` // diagnostics, optimize
	CreatedAt  time.Time    `json:"createdAt"`
	Unassigned []diag.Entry `json:"unassigned"`
	Stats      diag.Stats   `json:"stats"`
	Routes     []RouteOut   `json:"routes,omitempty"`
}

type ReportSummary struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
	Jobs        int       `json:"jobs"`
	Vehicles    int       `json:"vehicles"`
	Interrupted bool      `json:"interrupted"`
}

type DiagnosticsResponse struct {
	ReportID   string       `json:"reportId"`
	Unassigned []diag.Entry `json:"unassigned"`
	Stats      diag.Stats   `json:"stats"`
	Cached     bool         `json:"cached,omitempty"`
}

type OptimizeResponse struct {
	ReportID   string       `json:"reportId"`
	Routes     []RouteOut   `json:"routes"`
	Unassigned []diag.Entry `json:"unassigned"`
	Stats      diag.Stats   `json:"stats"`
	Metrics    opt.Metrics  `json:"metrics"`
}

// ReportEvent is published on the event broker and to webhooks when a report is stored.
type ReportEvent struct {
	Type     string            `json:"type"`
	ReportID string            `json:"reportId"`
	TenantID string            `json:"tenantId"`
	Source   string            `json:"source"`
	Jobs     int               `json:"jobs"`
	ByCode   map[diag.Code]int `json:"byCode"`
	TS       string            `json:"ts"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
