// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package models

import "time"

// RouteMatchCacheVersion is the schema version of the persisted route
// cache. A version mismatch on load discards the cache and forces a clean
// reprocessing pass instead of attempting migration.
const RouteMatchCacheVersion = 2

// MatchDirection classifies how an activity traverses a route.
type MatchDirection string

const (
	// DirectionSame: the activity follows the route start to end.
	DirectionSame MatchDirection = "same"
	// DirectionReverse: the simplified point sequence matches when
	// traversed backward, within the distance-difference tolerance.
	DirectionReverse MatchDirection = "reverse"
	// DirectionPartial: a bounded contiguous overlap window along the
	// route, less than a full traversal in either direction.
	DirectionPartial MatchDirection = "partial"
)

// RouteSignature is the compact geometric representation of one activity's
// GPS track, produced by the geometry kernel. Signatures are computed once
// per activity, are immutable, and are kept forever in the route cache.
type RouteSignature struct {
	ActivityID string `json:"activity_id"`
	// Points is the simplified track, typically 50-100 points.
	Points    Track   `json:"points"`
	DistanceM float64 `json:"distance_m"`
	Bounds    Bounds  `json:"bounds"`
	// StartCell and EndCell are coarse region cell tokens (~500 m grid)
	// used to cheaply prefilter candidates before geometric comparison.
	StartCell     string    `json:"start_cell"`
	EndCell       string    `json:"end_cell"`
	IsLoop        bool      `json:"is_loop"`
	ElevationGain float64   `json:"elevation_gain,omitempty"`
	PointCount    int       `json:"point_count"`
	Sport         SportType `json:"sport"`
	Date          time.Time `json:"date"`
}

// RouteGroup is a cluster of activities judged to traverse the same path.
// Membership is decided by the grouping threshold, which is stricter than
// the display-match threshold: an activity can be reported as matching a
// route without being counted as a member.
type RouteGroup struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	RepresentativeID    string    `json:"representative_id"`
	ActivityIDs         []string  `json:"activity_ids"`
	Sport               SportType `json:"sport"`
	FirstDate           time.Time `json:"first_date"`
	LastDate            time.Time `json:"last_date"`
	AvgMatchPercent     float64   `json:"avg_match_percent"`
	TotalDistanceM      float64   `json:"total_distance_m"`
	RepresentativeIsLoop bool     `json:"representative_is_loop"`
}

// MemberCount returns the number of grouped activities.
func (g *RouteGroup) MemberCount() int { return len(g.ActivityIDs) }

// HasMember reports whether an activity is a member of the group.
func (g *RouteGroup) HasMember(id string) bool {
	for _, m := range g.ActivityIDs {
		if m == id {
			return true
		}
	}
	return false
}

// OverlapWindow describes where along a route a partial match occurs,
// expressed as percentages of the route's length.
type OverlapWindow struct {
	StartPercent float64 `json:"start_percent"`
	EndPercent   float64 `json:"end_percent"`
	DistanceM    float64 `json:"distance_m"`
}

// RouteMatch records the outcome of matching one activity against a route
// group. One match per activity per processing pass; reprocessing
// supersedes the previous record rather than appending.
type RouteMatch struct {
	ActivityID   string         `json:"activity_id"`
	GroupID      string         `json:"group_id"`
	MatchPercent float64        `json:"match_percent"`
	Direction    MatchDirection `json:"direction"`
	Overlap      *OverlapWindow `json:"overlap,omitempty"`
	// Confidence in [0,1], reflecting GPS point density and quality.
	Confidence float64 `json:"confidence"`
	// Grouped reports whether the match also cleared the grouping
	// threshold and the activity was added as a group member.
	Grouped bool `json:"grouped"`
}

// SectionPortion locates a frequent section within one member activity.
// StartIndex and EndIndex are inclusive indices into the activity's
// simplified signature points, not its raw recorded track; the signature
// is what section detection runs over and what consumers render.
type SectionPortion struct {
	ActivityID string         `json:"activity_id"`
	StartIndex int            `json:"start_index"`
	EndIndex   int            `json:"end_index"`
	DistanceM  float64        `json:"distance_m"`
	Direction  MatchDirection `json:"direction"`
}

// FrequentSection is a sub-route segment traversed by at least the
// configured minimum number of distinct activities, independent of
// full-route grouping.
//
// The representative polyline is always a real observed trace (the medoid
// member's recorded points), never an averaged or interpolated line, so a
// rendered section always looks like a rideable path.
type FrequentSection struct {
	ID               string                     `json:"id"`
	Sport            SportType                  `json:"sport"`
	Polyline         Track                      `json:"polyline"`
	RepresentativeID string                     `json:"representative_id"`
	ActivityIDs      []string                   `json:"activity_ids"`
	Portions         map[string]*SectionPortion `json:"portions"`
	VisitCount       int                        `json:"visit_count"`
	DistanceM        float64                    `json:"distance_m"`
	Name             string                     `json:"name,omitempty"`
}

// RouteMatchCache is the aggregate root for the matching subsystem.
//
// ProcessedActivityIDs tracks exactly which activities have had a matching
// pass attempted (success or no-match). It is used to skip reprocessing and
// to compute the unprocessed delta after a sync.
type RouteMatchCache struct {
	Version              int                         `json:"version"`
	UpdatedAt            time.Time                   `json:"updated_at"`
	Signatures           map[string]*RouteSignature  `json:"signatures"`
	Groups               map[string]*RouteGroup      `json:"groups"`
	Matches              map[string]*RouteMatch      `json:"matches"`
	ProcessedActivityIDs map[string]bool             `json:"processed_activity_ids"`
	ActivityToGroup      map[string]string           `json:"activity_to_group"`
	Sections             map[string]*FrequentSection `json:"sections"`
}

// NewRouteMatchCache returns an empty cache at the current schema version.
func NewRouteMatchCache() *RouteMatchCache {
	return &RouteMatchCache{
		Version:              RouteMatchCacheVersion,
		Signatures:           make(map[string]*RouteSignature),
		Groups:               make(map[string]*RouteGroup),
		Matches:              make(map[string]*RouteMatch),
		ProcessedActivityIDs: make(map[string]bool),
		ActivityToGroup:      make(map[string]string),
		Sections:             make(map[string]*FrequentSection),
	}
}

// IsProcessed reports whether a matching pass was already attempted for the
// activity.
func (c *RouteMatchCache) IsProcessed(id string) bool {
	return c.ProcessedActivityIDs[id]
}

// Clone returns a deep copy for observer snapshots.
func (c *RouteMatchCache) Clone() *RouteMatchCache {
	if c == nil {
		return nil
	}
	out := &RouteMatchCache{
		Version:              c.Version,
		UpdatedAt:            c.UpdatedAt,
		Signatures:           make(map[string]*RouteSignature, len(c.Signatures)),
		Groups:               make(map[string]*RouteGroup, len(c.Groups)),
		Matches:              make(map[string]*RouteMatch, len(c.Matches)),
		ProcessedActivityIDs: make(map[string]bool, len(c.ProcessedActivityIDs)),
		ActivityToGroup:      make(map[string]string, len(c.ActivityToGroup)),
		Sections:             make(map[string]*FrequentSection, len(c.Sections)),
	}
	for id, sig := range c.Signatures {
		cp := *sig
		cp.Points = append(Track(nil), sig.Points...)
		out.Signatures[id] = &cp
	}
	for id, g := range c.Groups {
		cp := *g
		cp.ActivityIDs = append([]string(nil), g.ActivityIDs...)
		out.Groups[id] = &cp
	}
	for id, m := range c.Matches {
		cp := *m
		if m.Overlap != nil {
			o := *m.Overlap
			cp.Overlap = &o
		}
		out.Matches[id] = &cp
	}
	for id, v := range c.ProcessedActivityIDs {
		out.ProcessedActivityIDs[id] = v
	}
	for id, g := range c.ActivityToGroup {
		out.ActivityToGroup[id] = g
	}
	for id, s := range c.Sections {
		cp := *s
		cp.Polyline = append(Track(nil), s.Polyline...)
		cp.ActivityIDs = append([]string(nil), s.ActivityIDs...)
		cp.Portions = make(map[string]*SectionPortion, len(s.Portions))
		for aid, p := range s.Portions {
			pc := *p
			cp.Portions[aid] = &pc
		}
		out.Sections[id] = &cp
	}
	return out
}
