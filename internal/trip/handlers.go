package trip

import (
	"backend-convoyhub/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
)

type createRequest struct {
	HostID string `json:"hostId" validate:"required"`
}

type joinRequest struct {
	Code   string `json:"code" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Post("/create", func(c *fiber.Ctx) error {
		var req createRequest
		if err := httpx.Bind(c, &req); err != nil {
			return httpx.Error(err)
		}
		trip, err := svc.CreateTrip(c.Context(), req.HostID)
		if err != nil {
			return httpx.Error(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"tripId": trip.ID,
			"code":   trip.Code,
			"hostId": trip.HostID,
		})
	})

	r.Post("/join", func(c *fiber.Ctx) error {
		var req joinRequest
		if err := httpx.Bind(c, &req); err != nil {
			return httpx.Error(err)
		}
		trip, err := svc.JoinTrip(c.Context(), req.Code, req.UserID)
		if err != nil {
			return httpx.Error(err)
		}
		return c.JSON(fiber.Map{
			"tripId":       trip.ID,
			"hostId":       trip.HostID,
			"participants": trip.Participants,
		})
	})

	r.Get("/:code", func(c *fiber.Ctx) error {
		trip, err := svc.GetTrip(c.Context(), c.Params("code"))
		if err != nil {
			return httpx.Error(err)
		}
		return c.JSON(fiber.Map{
			"tripId":       trip.ID,
			"code":         trip.Code,
			"hostId":       trip.HostID,
			"participants": trip.Participants,
			"status":       trip.Status,
		})
	})
}
