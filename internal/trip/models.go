package trip

import (
	"slices"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type Trip struct {
	ID           string    `json:"tripId"`
	Code         string    `json:"code"`
	HostID       string    `json:"hostId"`
	Participants []string  `json:"participants"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (t Trip) HasParticipant(memberID string) bool {
	return slices.Contains(t.Participants, memberID)
}

// IsHost reports whether memberID created the trip and may therefore relay
// locations on behalf of offline members.
func IsHost(t Trip, memberID string) bool {
	return memberID != "" && t.HostID == memberID
}
