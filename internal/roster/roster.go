// Package roster is the member-side view of the convoy: the local position,
// every peer heard from, and their liveness.
package roster

import (
	"context"
	"sort"
	"sync"
	"time"

	"backend-convoyhub/internal/shared/geo"
	"backend-convoyhub/internal/shared/presence"
)

// SweepInterval is the default staleness re-evaluation cadence.
const SweepInterval = 60 * time.Second

// MaxClockSkew bounds how far ahead of the local clock a stored sample time
// may be and still hold back later updates.
const MaxClockSkew = time.Minute

type Role string

const (
	RoleLeader Role = "leader"
	RolePeer   Role = "peer"
	RoleSelf   Role = "self"
)

type Entry struct {
	MemberID   string
	Latitude   float64
	Longitude  float64
	Heading    float64
	Speed      float64
	Role       Role
	Status     presence.Status
	LastUpdate time.Time
	// SampledAt is the time carried by the update, zero when unknown.
	SampledAt time.Time
}

type Roster struct {
	selfID   string
	leaderID string
	now      func() time.Time

	mu    sync.Mutex
	self  *Entry
	peers map[string]*Entry
}

// New creates an empty roster for selfID in a trip hosted by leaderID.
func New(selfID, leaderID string) *Roster {
	return &Roster{
		selfID:   selfID,
		leaderID: leaderID,
		now:      time.Now,
		peers:    map[string]*Entry{},
	}
}

// UpdatePeer upserts a peer and stamps it with the local reception time.
// Updates for the local member and updates carrying a sample time older than
// the stored one are dropped; the return value reports whether e was applied.
// A stored sample time more than MaxClockSkew ahead of the local clock no
// longer orders anything, so a peer with a fast clock cannot freeze its entry.
func (r *Roster) UpdatePeer(e Entry) bool {
	if e.MemberID == "" || e.MemberID == r.selfID {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if cur, ok := r.peers[e.MemberID]; ok && outOfOrder(e.SampledAt, cur.SampledAt, now) {
		return false
	}
	if e.Status == "" {
		e.Status = presence.Online
	}
	e.Role = RolePeer
	if e.MemberID == r.leaderID {
		e.Role = RoleLeader
	}
	e.LastUpdate = now
	r.peers[e.MemberID] = &e
	return true
}

func outOfOrder(incoming, stored, now time.Time) bool {
	if incoming.IsZero() || stored.IsZero() {
		return false
	}
	if stored.After(now.Add(MaxClockSkew)) {
		return false
	}
	return incoming.Before(stored)
}

func (r *Roster) RemovePeer(memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, memberID)
}

// SetSelf records the local GPS sample.
func (r *Roster) SetSelf(s geo.Sample, status presence.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	sampled := s.At
	if sampled.IsZero() {
		sampled = now
	}
	r.self = &Entry{
		MemberID:   r.selfID,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Heading:    s.Heading,
		Speed:      s.Speed,
		Role:       RoleSelf,
		Status:     status,
		LastUpdate: now,
		SampledAt:  sampled,
	}
}

func (r *Roster) Get(memberID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if memberID == r.selfID {
		if r.self == nil {
			return Entry{}, false
		}
		return *r.self, true
	}
	e, ok := r.peers[memberID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns every entry, self included, ordered by member id.
func (r *Roster) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.peers)+1)
	if r.self != nil {
		out = append(out, *r.self)
	}
	for _, e := range r.peers {
		out = append(out, *e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}

// Sweep marks entries silent for longer than presence.StaleAfter as lost and
// returns the ids it changed. Entries already lost are left alone.
func (r *Roster) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flipped []string
	mark := func(e *Entry) {
		if e.Status != presence.Lost && presence.Stale(e.LastUpdate, now) {
			e.Status = presence.Lost
			flipped = append(flipped, e.MemberID)
		}
	}
	if r.self != nil {
		mark(r.self)
	}
	for _, e := range r.peers {
		mark(e)
	}
	sort.Strings(flipped)
	return flipped
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Roster) RunSweeper(ctx context.Context, interval time.Duration, onLost func([]string)) {
	if interval <= 0 {
		interval = SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lost := r.Sweep(r.now()); len(lost) > 0 && onLost != nil {
				onLost(lost)
			}
		}
	}
}

// DistanceToLeader returns the haversine distance in metres from the local
// member to the leader. ok is false when either position is unknown.
func (r *Roster) DistanceToLeader() (metres float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	leader, found := r.peers[r.leaderID]
	if r.self == nil || !found {
		return 0, false
	}
	return geo.HaversineM(r.self.Latitude, r.self.Longitude, leader.Latitude, leader.Longitude), true
}

// GroupSpeed is the mean of every non-zero speed, in whole km/h.
func (r *Roster) GroupSpeed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sum float64
	var n int
	add := func(e *Entry) {
		if e.Speed != 0 {
			sum += e.Speed
			n++
		}
	}
	if r.self != nil {
		add(r.self)
	}
	for _, e := range r.peers {
		add(e)
	}
	if n == 0 {
		return 0
	}
	return geo.KmhFromMps(sum / float64(n))
}
