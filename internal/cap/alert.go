// Package cap parses CAP-style severe weather alert documents into
// structured Alert records. Parsing is defensive throughout: missing fields
// default, unparsable timestamps become nil, and only a document that fails
// XML decoding entirely is rejected.
package cap

import (
	"time"

	"github.com/twpayne/go-geom"
)

// Severity is the source vocabulary's severity value, passed through
// verbatim with an explicit Unknown variant.
type Severity string

const (
	SeverityExtreme  Severity = "Extreme"
	SeveritySevere   Severity = "Severe"
	SeverityModerate Severity = "Moderate"
	SeverityMinor    Severity = "Minor"
	SeverityUnknown  Severity = "Unknown"
)

// ParseSeverity maps source text onto the closed Severity set.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityExtreme, SeveritySevere, SeverityModerate, SeverityMinor:
		return Severity(s)
	default:
		return SeverityUnknown
	}
}

// Urgency is the source vocabulary's urgency value.
type Urgency string

const (
	UrgencyImmediate Urgency = "Immediate"
	UrgencyExpected  Urgency = "Expected"
	UrgencyFuture    Urgency = "Future"
	UrgencyPast      Urgency = "Past"
	UrgencyUnknown   Urgency = "Unknown"
)

// ParseUrgency maps source text onto the closed Urgency set.
func ParseUrgency(s string) Urgency {
	switch Urgency(s) {
	case UrgencyImmediate, UrgencyExpected, UrgencyFuture, UrgencyPast:
		return Urgency(s)
	default:
		return UrgencyUnknown
	}
}

// Certainty is the source vocabulary's certainty value.
type Certainty string

const (
	CertaintyObserved Certainty = "Observed"
	CertaintyLikely   Certainty = "Likely"
	CertaintyPossible Certainty = "Possible"
	CertaintyUnlikely Certainty = "Unlikely"
	CertaintyUnknown  Certainty = "Unknown"
)

// ParseCertainty maps source text onto the closed Certainty set.
func ParseCertainty(s string) Certainty {
	switch Certainty(s) {
	case CertaintyObserved, CertaintyLikely, CertaintyPossible, CertaintyUnlikely:
		return Certainty(s)
	default:
		return CertaintyUnknown
	}
}

// Circle is a circular hazard area: centre in (lon, lat) degrees plus a
// radius in kilometres.
type Circle struct {
	Center   geom.Coord
	RadiusKM float64
}

// Area is one geographic descriptor inside an alert. Description is always
// present; Polygon and Circle are each optional. When both are absent,
// matching degrades to name-based fallback.
type Area struct {
	Description string
	Polygon     *geom.Polygon
	Circle      *Circle
}

// Alert is one logical hazard notice extracted from a CAP document.
type Alert struct {
	ID          string
	Title       string
	Description string
	Instruction string
	Severity    Severity
	Urgency     Urgency
	Certainty   Certainty
	Effective   *time.Time
	Expires     *time.Time
	Sent        *time.Time
	Areas       []Area
	SourcePath  string
	Link        string
}

// BestTimestamp returns Sent when present, falling back to Effective.
// Nil when the document carried neither.
func (a *Alert) BestTimestamp() *time.Time {
	if a.Sent != nil {
		return a.Sent
	}
	return a.Effective
}
