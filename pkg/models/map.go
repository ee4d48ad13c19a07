package models

import "fmt"

// RouteItem is one stop in a video's route, tied back to the video by timecode
type RouteItem struct {
	Location    string    `json:"location"`
	Coordinates []float64 `json:"coordinates,omitempty"` // [lon, lat]
	Description string    `json:"description,omitempty"`
	Timecode    string    `json:"timecode,omitempty"` // "HH:MM:SS,mmm"
	Tags        []string  `json:"tags,omitempty"`
	Marker      string    `json:"marker,omitempty"`
}

// HasCoordinates reports whether the item carries a usable coordinate pair
func (r *RouteItem) HasCoordinates() bool {
	return len(r.Coordinates) == 2
}

// MapVisualization is the terminal analysis artifact: the ordered, geocoded
// route extracted from a video.
type MapVisualization struct {
	VideoID string      `json:"video_id"`
	Routes  []RouteItem `json:"routes"`
}

// Validate enforces the persisted-artifact contract: at least one route, and
// every coordinate pair present must be [lon, lat] within WGS84 bounds.
func (m *MapVisualization) Validate() error {
	if len(m.Routes) == 0 {
		return fmt.Errorf("map visualization for %s has no routes", m.VideoID)
	}
	for i, r := range m.Routes {
		if r.Coordinates == nil {
			continue
		}
		if len(r.Coordinates) != 2 {
			return fmt.Errorf("route %d (%s): coordinates must be [lon, lat]", i, r.Location)
		}
		lon, lat := r.Coordinates[0], r.Coordinates[1]
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			return fmt.Errorf("route %d (%s): coordinates out of range: [%v, %v]", i, r.Location, lon, lat)
		}
	}
	return nil
}

// CoordinateCoverage returns the fraction of routes carrying coordinates
func (m *MapVisualization) CoordinateCoverage() float64 {
	if len(m.Routes) == 0 {
		return 0
	}
	n := 0
	for i := range m.Routes {
		if m.Routes[i].HasCoordinates() {
			n++
		}
	}
	return float64(n) / float64(len(m.Routes))
}
