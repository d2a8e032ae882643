package tracking

import (
	"time"

	"backend-convoyhub/internal/realtime"
	"backend-convoyhub/internal/shared/geo"
	"backend-convoyhub/internal/shared/presence"
)

// Location is the single stored record per (trip, member).
type Location struct {
	MemberID  string          `json:"userId"`
	TripCode  string          `json:"-"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Heading   float64         `json:"heading"`
	Speed     float64         `json:"speed"`
	Status    presence.Status `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	// SampledAt is the device clock of the fix in unix ms, 0 when unknown.
	// It is only comparable with other samples from the same member.
	SampledAt int64           `json:"sampledAt,omitempty"`
}

// SampleTime returns the device sample time, zero when the device sent none.
func (l Location) SampleTime() time.Time {
	if l.SampledAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(l.SampledAt)
}

func (l Location) message() realtime.LocationMessage {
	return realtime.LocationMessage{
		MemberID:  l.MemberID,
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		Heading:   l.Heading,
		Speed:     l.Speed,
		Timestamp: l.SampledAt,
		Status:    l.Status,
	}
}

// LastKnown is the minimal position served from the cache.
type LastKnown struct {
	MemberID  string  `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Report is a member writing its own position.
type Report struct {
	MemberID string
	Sample   geo.Sample
	Status   presence.Status
}

// Relay is the host writing a position received over the SMS bridge.
type Relay struct {
	MemberID  string
	RelayedBy string
	Latitude  float64
	Longitude float64
}
