package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"backend-convoyhub/internal/db"
	"backend-convoyhub/internal/shared/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxCodeAttempts = 5

var errCodesExhausted = errors.New("could not allocate a unique trip code")

type Service struct {
	db      db.Querier
	newCode func() (string, error)
	log     *slog.Logger
}

func NewService(db db.Querier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, newCode: NewCode, log: log}
}

// CreateTrip registers a trip hosted by hostID with the host as its first
// participant. A code collision regenerates the code and retries.
func (s *Service) CreateTrip(ctx context.Context, hostID string) (Trip, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return Trip{}, fmt.Errorf("hostId is required: %w", apperr.ErrValidation)
	}

	trip := Trip{
		ID:           uuid.NewString(),
		HostID:       hostID,
		Participants: []string{hostID},
		Status:       StatusActive,
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return Trip{}, err
		}

		row := s.db.QueryRow(ctx, `
			WITH created AS (
				INSERT INTO trips (id, code, host_id, status)
				VALUES ($1,$2,$3,$4)
				RETURNING id, created_at
			), host AS (
				INSERT INTO trip_participants (trip_id, member_id)
				SELECT id, $3 FROM created
			)
			SELECT created_at FROM created
		`, trip.ID, code, hostID, string(trip.Status))
		err = row.Scan(&trip.CreatedAt)
		if err == nil {
			trip.Code = code
			return trip, nil
		}
		if !isUniqueViolation(err) {
			return Trip{}, err
		}
		s.log.Warn("trip code collision, regenerating", "attempt", attempt)
	}
	return Trip{}, errCodesExhausted
}

// JoinTrip adds memberID to the trip's participants. Joining twice is a no-op.
func (s *Service) JoinTrip(ctx context.Context, code, memberID string) (Trip, error) {
	memberID = strings.TrimSpace(memberID)
	if NormalizeCode(code) == "" || memberID == "" {
		return Trip{}, fmt.Errorf("code and userId are required: %w", apperr.ErrValidation)
	}

	trip, err := s.GetTrip(ctx, code)
	if err != nil {
		return Trip{}, err
	}
	if trip.HasParticipant(memberID) {
		return trip, nil
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO trip_participants (trip_id, member_id)
		VALUES ($1,$2)
		ON CONFLICT (trip_id, member_id) DO NOTHING
	`, trip.ID, memberID)
	if err != nil {
		return Trip{}, err
	}
	trip.Participants = append(trip.Participants, memberID)
	return trip, nil
}

func (s *Service) GetTrip(ctx context.Context, code string) (Trip, error) {
	code = NormalizeCode(code)
	row := s.db.QueryRow(ctx, `
		SELECT id, code, host_id, status, created_at
		FROM trips WHERE code=$1
	`, code)

	var trip Trip
	var status string
	if err := row.Scan(&trip.ID, &trip.Code, &trip.HostID, &status, &trip.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Trip{}, fmt.Errorf("trip %s: %w", code, apperr.ErrNotFound)
		}
		return Trip{}, err
	}
	trip.Status = Status(status)

	participants, err := s.participants(ctx, trip.ID)
	if err != nil {
		return Trip{}, err
	}
	trip.Participants = participants
	return trip, nil
}

func (s *Service) participants(ctx context.Context, tripID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT member_id
		FROM trip_participants WHERE trip_id=$1
		ORDER BY joined_at, member_id
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
