package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend-convoyhub/internal/shared/apperr"
	"backend-convoyhub/internal/shared/geo"
	"backend-convoyhub/internal/shared/presence"
)

// LocationMessage is the payload broadcast on a trip's location topic.
type LocationMessage struct {
	MemberID  string          `json:"memberId"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Heading   float64         `json:"heading"`
	Speed     float64         `json:"speed"`
	Timestamp int64           `json:"timestamp"`
	Status    presence.Status `json:"status"`
}

// SampledAt returns the embedded sample time, zero when the sender omitted it.
func (m LocationMessage) SampledAt() time.Time {
	if m.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// Topic returns the trip-scoped location topic, e.g. convoy/AB12CD/location.
func Topic(tripCode string) string {
	return "convoy/" + strings.ToUpper(strings.TrimSpace(tripCode)) + "/location"
}

type wireMessage struct {
	MemberID  string   `json:"memberId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Heading   float64  `json:"heading"`
	Speed     float64  `json:"speed"`
	Timestamp int64    `json:"timestamp"`
	Status    string   `json:"status"`
}

// DecodeMessage parses and validates a payload. Anything partially formed is
// rejected so it never reaches the roster.
func DecodeMessage(payload []byte) (LocationMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return LocationMessage{}, fmt.Errorf("decode location message: %w", apperr.ErrValidation)
	}
	if strings.TrimSpace(w.MemberID) == "" {
		return LocationMessage{}, fmt.Errorf("memberId is required: %w", apperr.ErrValidation)
	}
	if w.Latitude == nil || w.Longitude == nil || !geo.ValidCoordinate(*w.Latitude, *w.Longitude) {
		return LocationMessage{}, fmt.Errorf("coordinates are invalid: %w", apperr.ErrValidation)
	}

	status := presence.Status(w.Status)
	if status == "" {
		status = presence.Online
	}
	if !presence.Writable(status) {
		return LocationMessage{}, fmt.Errorf("status %q is invalid: %w", w.Status, apperr.ErrValidation)
	}

	return LocationMessage{
		MemberID:  w.MemberID,
		Latitude:  *w.Latitude,
		Longitude: *w.Longitude,
		Heading:   w.Heading,
		Speed:     w.Speed,
		Timestamp: w.Timestamp,
		Status:    status,
	}, nil
}

func EncodeMessage(m LocationMessage) ([]byte, error) {
	return json.Marshal(m)
}
