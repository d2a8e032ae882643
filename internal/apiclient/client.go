// Package apiclient is the member-side HTTP client for the trip registry and
// relay store. It doubles as the polling fallback when MQTT is unavailable.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"backend-convoyhub/internal/shared/apperr"
	"backend-convoyhub/internal/shared/geo"
	"backend-convoyhub/internal/shared/presence"
	"backend-convoyhub/internal/tracking"
	"backend-convoyhub/internal/trip"

	"github.com/gofiber/fiber/v2"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	timeout time.Duration
	log     *slog.Logger
}

func New(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
		log:     log.With("component", "apiclient"),
	}
}

func (c *Client) CreateTrip(ctx context.Context, hostID string) (trip.Trip, error) {
	var out trip.Trip
	err := c.do(ctx, fiber.MethodPost, "/trip/create", fiber.Map{"hostId": hostID}, &out)
	return out, err
}

func (c *Client) JoinTrip(ctx context.Context, code, memberID string) (trip.Trip, error) {
	var out trip.Trip
	err := c.do(ctx, fiber.MethodPost, "/trip/join", fiber.Map{"code": code, "userId": memberID}, &out)
	if err != nil {
		return trip.Trip{}, err
	}
	out.Code = trip.NormalizeCode(code)
	return out, nil
}

func (c *Client) GetTrip(ctx context.Context, code string) (trip.Trip, error) {
	var out trip.Trip
	err := c.do(ctx, fiber.MethodGet, "/trip/"+escape(code), nil, &out)
	return out, err
}

// UpdateLocation writes the member's own position together with the device
// time of the fix.
func (c *Client) UpdateLocation(ctx context.Context, code, memberID string, s geo.Sample, status presence.Status) error {
	body := fiber.Map{
		"userId":    memberID,
		"latitude":  s.Latitude,
		"longitude": s.Longitude,
		"heading":   s.Heading,
		"speed":     s.Speed,
	}
	if status != "" {
		body["status"] = status
	}
	if !s.At.IsZero() {
		body["timestamp"] = s.At.UnixMilli()
	}
	return c.do(ctx, fiber.MethodPost, "/trip/"+escape(code)+"/location", body, nil)
}

// Locations fetches every member record of the trip with server-derived status.
func (c *Client) Locations(ctx context.Context, code string) ([]tracking.Location, error) {
	var out []tracking.Location
	err := c.do(ctx, fiber.MethodGet, "/trip/"+escape(code)+"/locations", nil, &out)
	return out, err
}

// Relay forwards a position received over SMS. Only the host may call it.
func (c *Client) Relay(ctx context.Context, code, memberID, relayedBy string, lat, lng float64) error {
	body := fiber.Map{
		"userId":    memberID,
		"latitude":  lat,
		"longitude": lng,
		"relayedBy": relayedBy,
	}
	return c.do(ctx, fiber.MethodPost, "/trip/"+escape(code)+"/relay", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if body != nil {
		a.JSON(body)
	}
	a.Timeout(c.deadline(ctx))
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return fmt.Errorf("%s %s: %v: %w", method, path, err, apperr.ErrTransport)
	}

	// Bytes releases the agent.
	code, raw, errs := a.Bytes()
	if len(errs) > 0 {
		c.log.Debug("request failed", "method", method, "path", path, "errors", len(errs))
		return fmt.Errorf("%s %s: %v: %w", method, path, errors.Join(errs...), apperr.ErrTransport)
	}
	if sentinel := apperr.FromStatus(code); sentinel != nil {
		return fmt.Errorf("%s: %w", errorMessage(raw, code), sentinel)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) deadline(ctx context.Context) time.Duration {
	if d, ok := ctx.Deadline(); ok {
		if left := time.Until(d); left < c.timeout {
			return left
		}
	}
	return c.timeout
}

func errorMessage(raw []byte, code int) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return fmt.Sprintf("unexpected status %d", code)
}

func escape(code string) string {
	return url.PathEscape(trip.NormalizeCode(code))
}
