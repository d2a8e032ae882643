package tracking

import (
	"time"

	"backend-convoyhub/internal/shared/geo"
	"backend-convoyhub/internal/shared/httpx"
	"backend-convoyhub/internal/shared/presence"

	"github.com/gofiber/fiber/v2"
)

type reportRequest struct {
	UserID    string          `json:"userId" validate:"required"`
	Latitude  *float64        `json:"latitude" validate:"required,latitude"`
	Longitude *float64        `json:"longitude" validate:"required,longitude"`
	Heading   float64         `json:"heading" validate:"gte=0,lte=360"`
	Speed     float64         `json:"speed" validate:"gte=0"`
	Status    presence.Status `json:"status" validate:"omitempty,oneof=online bridged"`
	Timestamp int64           `json:"timestamp" validate:"gte=0"`
}

func (r reportRequest) sample() geo.Sample {
	s := geo.Sample{
		Latitude:  *r.Latitude,
		Longitude: *r.Longitude,
		Heading:   r.Heading,
		Speed:     r.Speed,
	}
	if r.Timestamp > 0 {
		s.At = time.UnixMilli(r.Timestamp)
	}
	return s
}

type relayRequest struct {
	UserID    string   `json:"userId" validate:"required"`
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	RelayedBy string   `json:"relayedBy" validate:"required"`
}

// RegisterRoutes mounts the relay store under the trip router so paths read
// /trip/:code/location and friends.
func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Post("/:code/location", func(c *fiber.Ctx) error {
		var req reportRequest
		if err := httpx.Bind(c, &req); err != nil {
			return httpx.Error(err)
		}
		_, err := svc.ReportLocation(c.Context(), c.Params("code"), Report{
			MemberID: req.UserID,
			Sample:   req.sample(),
			Status:   req.Status,
		})
		if err != nil {
			return httpx.Error(err)
		}
		return c.JSON(fiber.Map{"success": true})
	})

	r.Get("/:code/locations", func(c *fiber.Ctx) error {
		locations, err := svc.ListLocations(c.Context(), c.Params("code"))
		if err != nil {
			return httpx.Error(err)
		}
		return c.JSON(locations)
	})

	r.Get("/:code/locations/:userId", func(c *fiber.Ctx) error {
		loc, err := svc.LastKnown(c.Context(), c.Params("code"), c.Params("userId"))
		if err != nil {
			return httpx.Error(err)
		}
		return c.JSON(loc)
	})

	r.Post("/:code/relay", func(c *fiber.Ctx) error {
		var req relayRequest
		if err := httpx.Bind(c, &req); err != nil {
			return httpx.Error(err)
		}
		_, err := svc.RelayLocation(c.Context(), c.Params("code"), Relay{
			MemberID:  req.UserID,
			RelayedBy: req.RelayedBy,
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
		})
		if err != nil {
			return httpx.Error(err)
		}
		return c.JSON(fiber.Map{"success": true, "message": relayedMessage})
	})
}
