// Package geo provides the geographic heuristics used by expert matching:
// distance, location-sensitive query detection, and proximity boosts.
package geo

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
)

const earthRadiusKm = 6371

// Coordinates follow the go-geom XY convention: X is longitude, Y is
// latitude.

// Haversine returns the great-circle distance between two points in km.
func Haversine(a, b geom.Coord) float64 {
	lat1 := a.Y() * math.Pi / 180
	lat2 := b.Y() * math.Pi / 180
	dLat := (b.Y() - a.Y()) * math.Pi / 180
	dLon := (b.X() - a.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Asin(math.Sqrt(h))
}

// ExtractCoordinates pulls a coordinate out of a location metadata map.
// It accepts lat/lon, latitude/longitude, or a GeoJSON-style [lon, lat]
// coordinates array. Returns nil when no coordinate is resolvable.
func ExtractCoordinates(location map[string]any) *geom.Coord {
	if location == nil {
		return nil
	}

	if lat, ok := toFloat(location["lat"]); ok {
		if lon, ok := toFloat(location["lon"]); ok {
			return &geom.Coord{lon, lat}
		}
	}
	if lat, ok := toFloat(location["latitude"]); ok {
		if lon, ok := toFloat(location["longitude"]); ok {
			return &geom.Coord{lon, lat}
		}
	}
	if raw, ok := location["coordinates"].([]any); ok && len(raw) == 2 {
		if lon, ok := toFloat(raw[0]); ok {
			if lat, ok := toFloat(raw[1]); ok {
				return &geom.Coord{lon, lat}
			}
		}
	}

	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// localKeywords flag questions that benefit from geographic matching.
var localKeywords = []string{
	// Weather
	"weather", "temperature", "rain", "snow", "forecast", "climate",
	// Events and venues
	"event", "concert", "festival", "market", "meeting", "conference",
	"restaurant", "bar", "cafe", "shop", "store", "mall",
	// Services
	"doctor", "dentist", "mechanic", "plumber", "electrician",
	"lawyer", "hospital", "clinic", "pharmacy",
	// Transportation
	"traffic", "parking", "bus", "train", "subway", "taxi", "uber",
	// Local references
	"near me", "nearby", "local", "around here", "in my area",
	"best place", "where can i", "how to get to",
	// Time-sensitive local
	"open now", "hours", "today", "this weekend", "currently",
}

var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bin\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`), // "in Chicago"
	regexp.MustCompile(`\b[A-Z][a-z]+,\s*[A-Z]{2}\b`),             // "Chicago, IL"
	regexp.MustCompile(`\bzip\s*code\s*\d{5}\b`),                  // "zip code 60601"
}

// IsLocalQuery reports whether the question is location-sensitive.
func IsLocalQuery(questionText string) bool {
	lower := strings.ToLower(questionText)
	for _, kw := range localKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, re := range locationPatterns {
		if re.MatchString(questionText) {
			return true
		}
	}
	return false
}

// timezoneOffsets maps common US timezone names to standard-time UTC offsets.
var timezoneOffsets = map[string]int{
	"America/New_York":    -5,
	"America/Chicago":     -6,
	"America/Denver":      -7,
	"America/Los_Angeles": -8,
	"America/Phoenix":     -7,
	"Pacific/Honolulu":    -10,
	"America/Anchorage":   -9,
}

// TimezoneOffset estimates the UTC offset in hours from location metadata.
// Falls back to a rough longitude-based approximation. Returns nil when
// nothing is resolvable.
func TimezoneOffset(location map[string]any) *int {
	if location == nil {
		return nil
	}

	if name, ok := location["timezone"].(string); ok {
		if off, ok := timezoneOffsets[name]; ok {
			return &off
		}
		return nil
	}

	if raw, ok := toFloat(location["utc_offset"]); ok {
		off := int(raw)
		return &off
	}

	if c := ExtractCoordinates(location); c != nil {
		// 15 degrees of longitude per hour, very rough.
		off := int(c.X() / 15)
		return &off
	}

	return nil
}

// IsBusinessHours reports whether it is 9am-6pm on a weekday in the given
// timezone offset. Unknown timezones are assumed to be available.
func IsBusinessHours(offset *int, now time.Time) bool {
	if offset == nil {
		return true
	}

	utc := now.UTC()
	localHour := ((utc.Hour() + *offset) % 24 + 24) % 24
	weekday := utc.Weekday()

	isWeekday := weekday >= time.Monday && weekday <= time.Friday
	return isWeekday && localHour >= 9 && localHour < 18
}

// Boost returns a proximity boost in [0, maxBoost] with linear decay to zero
// at maxDistanceKm. Missing coordinates on either side yield zero.
func Boost(query, expert *geom.Coord, maxBoost, maxDistanceKm float64) float64 {
	if query == nil || expert == nil {
		return 0
	}

	distance := Haversine(*query, *expert)
	if distance >= maxDistanceKm {
		return 0
	}

	return maxBoost * (1 - distance/maxDistanceKm)
}
