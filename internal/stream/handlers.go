package stream

import (
	"context"

	"backend-convoyhub/internal/shared/httpx"
	"backend-convoyhub/internal/trip"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const tripCodeKey = "tripCode"

type TripLookup interface {
	GetTrip(ctx context.Context, code string) (trip.Trip, error)
}

// RegisterRoutes exposes /ws/:code. Each connection receives the JSON
// records written to the trip's relay store; inbound frames are ignored.
// Unknown trips are rejected before the upgrade.
func RegisterRoutes(r fiber.Router, hub *Hub, trips TripLookup) {
	r.Get("/ws/:code", func(c *fiber.Ctx) error {
		t, err := trips.GetTrip(c.Context(), c.Params("code"))
		if err != nil {
			return httpx.Error(err)
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals(tripCodeKey, t.Code)
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		code, _ := c.Locals(tripCodeKey).(string)
		client := hub.Register(code)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
}
