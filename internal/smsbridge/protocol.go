// Package smsbridge encodes positions as short SMS bodies and lets the trip
// host relay them into the relay store for members without data coverage.
package smsbridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"backend-convoyhub/internal/shared/apperr"
	"backend-convoyhub/internal/shared/geo"
)

const (
	LocationPrefix = "KFL-LOC:"
	LeaderPrefix   = "KFL-STAT:LeaderAt:"
)

// ErrMalformed is returned for bridge bodies that do not parse. It matches
// apperr.ErrValidation as well.
var ErrMalformed = fmt.Errorf("malformed bridge message: %w", apperr.ErrValidation)

type Location struct {
	Latitude  float64
	Longitude float64
	MemberID  string
}

// EncodeLocation renders KFL-LOC:<lat>,<lon>,<memberId> with six decimals.
func EncodeLocation(lat, lon float64, memberID string) string {
	return LocationPrefix + coord(lat) + "," + coord(lon) + "," + memberID
}

// EncodeLeaderReply renders KFL-STAT:LeaderAt:<lat>,<lon>.
func EncodeLeaderReply(lat, lon float64) string {
	return LeaderPrefix + coord(lat) + "," + coord(lon)
}

func IsLocation(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), LocationPrefix)
}

func ParseLocation(body string) (Location, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(body), LocationPrefix)
	if !ok {
		return Location{}, fmt.Errorf("missing %s prefix: %w", LocationPrefix, ErrMalformed)
	}
	fields := strings.Split(rest, ",")
	if len(fields) != 3 {
		return Location{}, fmt.Errorf("want 3 fields, got %d: %w", len(fields), ErrMalformed)
	}
	lat, lon, err := parseCoords(fields[0], fields[1])
	if err != nil {
		return Location{}, err
	}
	memberID := strings.TrimSpace(fields[2])
	if memberID == "" {
		return Location{}, fmt.Errorf("empty member id: %w", ErrMalformed)
	}
	return Location{Latitude: lat, Longitude: lon, MemberID: memberID}, nil
}

// ParseLeaderReply reads the host's reply on the offline member's side.
func ParseLeaderReply(body string) (lat, lon float64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(body), LeaderPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("missing %s prefix: %w", LeaderPrefix, ErrMalformed)
	}
	fields := strings.Split(rest, ",")
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("want 2 fields, got %d: %w", len(fields), ErrMalformed)
	}
	return parseCoords(fields[0], fields[1])
}

func parseCoords(latField, lonField string) (float64, float64, error) {
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latField), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonField), 64)
	if err := errors.Join(err1, err2); err != nil {
		return 0, 0, fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	if !geo.ValidCoordinate(lat, lon) {
		return 0, 0, fmt.Errorf("coordinates out of range: %w", ErrMalformed)
	}
	return lat, lon, nil
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
