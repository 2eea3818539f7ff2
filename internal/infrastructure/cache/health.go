package cache

import "time"

// fallbackLadder holds the graduated TTLs. Every consecutive store
// failure moves one level up (longer TTL keeps stale data servable
// while the store struggles); any successful refresh drops back to
// the base level.
var fallbackLadder = []time.Duration{
	2 * time.Minute,
	5 * time.Minute,
	7 * time.Minute,
	10 * time.Minute,
	12 * time.Minute,
	15 * time.Minute,
	20 * time.Minute,
	30 * time.Minute,
}

// DefaultDisableThreshold is the staleness after which protected
// operation classes are refused.
const DefaultDisableThreshold = 30 * time.Minute

// ClassSales is the protected operation class guarding sale acceptance.
const ClassSales = "sales"

// gateState tracks one protected operation class.
type gateState struct {
	threshold time.Duration
	// disabled is the manual kill switch, independent of staleness
	disabled bool
	// wasOpen remembers the last evaluated position to log transitions once
	wasOpen bool
}

// HealthSnapshot is a read-only view of the service health for the ops
// surface and metrics. GateTripped reports whether any protected class
// is currently refused.
type HealthSnapshot struct {
	Enabled              bool          `json:"enabled"`
	FallbackLevel        int           `json:"fallbackLevel"`
	CurrentTTL           time.Duration `json:"currentTtl"`
	LastSuccessfulUpdate time.Time     `json:"lastSuccessfulUpdate"`
	GateTripped          bool          `json:"gateTripped"`
	Classes              []GateStatus  `json:"classes"`
}

// GateStatus reports one protected class.
type GateStatus struct {
	Class     string        `json:"class"`
	Open      bool          `json:"open"`
	Threshold time.Duration `json:"threshold"`
	StaleFor  time.Duration `json:"staleFor"`
}
