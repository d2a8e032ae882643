package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"backend-convoyhub/internal/db"
	"backend-convoyhub/internal/realtime"
	"backend-convoyhub/internal/shared/apperr"
	"backend-convoyhub/internal/shared/geo"
	"backend-convoyhub/internal/shared/presence"
	"backend-convoyhub/internal/trip"

	"github.com/jackc/pgx/v5"
)

const relayedMessage = "Location relayed via SMS bridge"

type TripLookup interface {
	GetTrip(ctx context.Context, code string) (trip.Trip, error)
}

// Broadcaster fans a stored record out to websocket subscribers of a trip.
type Broadcaster interface {
	Broadcast(tripCode string, payload []byte)
}

// Publisher mirrors a stored record onto the real-time topic of a trip.
type Publisher interface {
	Publish(ctx context.Context, tripCode string, msg realtime.LocationMessage) error
}

type Service struct {
	db     db.Querier
	trips  TripLookup
	cache  LocationCache
	hub    Broadcaster
	mirror Publisher
	now    func() time.Time
	log    *slog.Logger
}

func NewService(db db.Querier, trips TripLookup, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:    db,
		trips: trips,
		cache: NopCache{},
		now:   time.Now,
		log:   log.With("component", "tracking"),
	}
}

func (s *Service) WithCache(c LocationCache) *Service {
	if c != nil {
		s.cache = c
	}
	return s
}

func (s *Service) WithHub(h Broadcaster) *Service {
	s.hub = h
	return s
}

func (s *Service) WithMirror(p Publisher) *Service {
	s.mirror = p
	return s
}

// UpsertLocation overwrites the member's single record and stamps it with the
// service clock. The device sample time is stored alongside, untouched. The
// caller is responsible for authorising the write.
func (s *Service) UpsertLocation(ctx context.Context, tripCode, memberID string, sample geo.Sample, status presence.Status) (Location, error) {
	loc := Location{
		MemberID:  memberID,
		TripCode:  trip.NormalizeCode(tripCode),
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Heading:   sample.Heading,
		Speed:     sample.Speed,
		Status:    status,
		Timestamp: s.now().UTC(),
	}
	if !sample.At.IsZero() {
		loc.SampledAt = sample.At.UnixMilli()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO member_locations (trip_code, member_id, latitude, longitude, heading, speed, status, recorded_at, sampled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (trip_code, member_id) DO UPDATE
		SET latitude=EXCLUDED.latitude,
		    longitude=EXCLUDED.longitude,
		    heading=EXCLUDED.heading,
		    speed=EXCLUDED.speed,
		    status=EXCLUDED.status,
		    recorded_at=EXCLUDED.recorded_at,
		    sampled_at=EXCLUDED.sampled_at
	`, loc.TripCode, loc.MemberID, loc.Latitude, loc.Longitude, loc.Heading, loc.Speed, string(loc.Status), loc.Timestamp, loc.SampledAt)
	if err != nil {
		return Location{}, err
	}

	if err := s.cache.SetLocation(ctx, memberID, loc.Latitude, loc.Longitude); err != nil {
		s.log.Warn("location cache write failed", "member", memberID, "error", err)
	}
	s.fanOut(ctx, loc)
	return loc, nil
}

func (s *Service) fanOut(ctx context.Context, loc Location) {
	if s.hub != nil {
		payload, _ := json.Marshal(loc)
		s.hub.Broadcast(loc.TripCode, payload)
	}
	if s.mirror != nil {
		if err := s.mirror.Publish(ctx, loc.TripCode, loc.message()); err != nil {
			s.log.Warn("real-time mirror publish failed", "trip", loc.TripCode, "error", err)
		}
	}
}

// ListLocations returns one record per member with the status recomputed
// against the current time.
func (s *Service) ListLocations(ctx context.Context, tripCode string) ([]Location, error) {
	t, err := s.trips.GetTrip(ctx, tripCode)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT member_id, latitude, longitude, heading, speed, status, recorded_at, sampled_at
		FROM member_locations WHERE trip_code=$1
		ORDER BY member_id
	`, t.Code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := s.now()
	locations := []Location{}
	for rows.Next() {
		loc := Location{TripCode: t.Code}
		var status string
		if err := rows.Scan(&loc.MemberID, &loc.Latitude, &loc.Longitude, &loc.Heading, &loc.Speed, &status, &loc.Timestamp, &loc.SampledAt); err != nil {
			return nil, err
		}
		loc.Status = presence.Derive(presence.Status(status), loc.Timestamp, now)
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

// ReportLocation stores a participant's own position.
func (s *Service) ReportLocation(ctx context.Context, tripCode string, r Report) (Location, error) {
	r.MemberID = strings.TrimSpace(r.MemberID)
	if r.MemberID == "" {
		return Location{}, fmt.Errorf("userId is required: %w", apperr.ErrValidation)
	}
	if !geo.ValidCoordinate(r.Sample.Latitude, r.Sample.Longitude) {
		return Location{}, fmt.Errorf("latitude/longitude out of range: %w", apperr.ErrValidation)
	}
	if r.Status == "" {
		r.Status = presence.Online
	}
	if !presence.Writable(r.Status) {
		return Location{}, fmt.Errorf("status %q cannot be written: %w", r.Status, apperr.ErrValidation)
	}

	t, err := s.trips.GetTrip(ctx, tripCode)
	if err != nil {
		return Location{}, err
	}
	if !t.HasParticipant(r.MemberID) {
		return Location{}, fmt.Errorf("%s is not part of trip %s: %w", r.MemberID, t.Code, apperr.ErrForbidden)
	}
	return s.UpsertLocation(ctx, t.Code, r.MemberID, r.Sample, r.Status)
}

// RelayLocation stores a position the host received on behalf of an offline
// member. Only the host may relay; the record is always marked bridged.
func (s *Service) RelayLocation(ctx context.Context, tripCode string, r Relay) (Location, error) {
	r.MemberID = strings.TrimSpace(r.MemberID)
	r.RelayedBy = strings.TrimSpace(r.RelayedBy)
	if r.MemberID == "" || r.RelayedBy == "" {
		return Location{}, fmt.Errorf("userId and relayedBy are required: %w", apperr.ErrValidation)
	}
	if !geo.ValidCoordinate(r.Latitude, r.Longitude) {
		return Location{}, fmt.Errorf("latitude/longitude out of range: %w", apperr.ErrValidation)
	}

	t, err := s.trips.GetTrip(ctx, tripCode)
	if err != nil {
		return Location{}, err
	}
	if !trip.IsHost(t, r.RelayedBy) {
		return Location{}, fmt.Errorf("only the trip host can relay locations: %w", apperr.ErrForbidden)
	}

	loc, err := s.UpsertLocation(ctx, t.Code, r.MemberID, geo.Sample{Latitude: r.Latitude, Longitude: r.Longitude}, presence.Bridged)
	if err != nil {
		return Location{}, err
	}
	s.log.Info("location relayed", "trip", t.Code, "member", r.MemberID, "host", r.RelayedBy)
	return loc, nil
}

// LastKnown reads the cache first and falls back to the stored record.
func (s *Service) LastKnown(ctx context.Context, tripCode, memberID string) (LastKnown, error) {
	t, err := s.trips.GetTrip(ctx, tripCode)
	if err != nil {
		return LastKnown{}, err
	}

	cached, ok, err := s.cache.GetLocation(ctx, memberID)
	if err != nil {
		s.log.Warn("location cache read failed", "member", memberID, "error", err)
	}
	if ok {
		return LastKnown{MemberID: memberID, Latitude: cached.Lat, Longitude: cached.Lng}, nil
	}

	out := LastKnown{MemberID: memberID}
	err = s.db.QueryRow(ctx, `
		SELECT latitude, longitude
		FROM member_locations WHERE trip_code=$1 AND member_id=$2
	`, t.Code, memberID).Scan(&out.Latitude, &out.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return LastKnown{}, fmt.Errorf("no location for %s: %w", memberID, apperr.ErrNotFound)
	}
	if err != nil {
		return LastKnown{}, err
	}
	return out, nil
}
