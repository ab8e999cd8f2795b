package api

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/railsim/railsim_core/internal/consist"
	"github.com/railsim/railsim_core/internal/schedule"
	"github.com/railsim/railsim_core/internal/sim"
)

// ErrorHandler maps errors returned from handlers to JSON responses
func ErrorHandler(c *fiber.Ctx, err error) error {
	code, kind := classify(err)

	if code == fiber.StatusServiceUnavailable && sim.IsBusy(err) {
		c.Set("Retry-After", "1")
	}
	if code >= 500 {
		log.Printf("Error: %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   kind,
		"message": err.Error(),
	})
}

func classify(err error) (int, string) {
	var fe *fiber.Error
	var compErr *consist.CompositionError
	var routeErr *schedule.InvalidRouteError
	var persistErr *sim.PersistenceError

	switch {
	case errors.As(err, &fe):
		return fe.Code, "request_failed"
	case errors.As(err, &compErr):
		return fiber.StatusBadRequest, "composition_rejected"
	case errors.As(err, &routeErr):
		return fiber.StatusBadRequest, "invalid_route"
	case errors.Is(err, sim.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, sim.ErrBusy):
		return fiber.StatusServiceUnavailable, "simulation_busy"
	case errors.As(err, &persistErr):
		return fiber.StatusServiceUnavailable, "persistence_unavailable"
	case errors.Is(err, sim.ErrNotOpen):
		return fiber.StatusServiceUnavailable, "simulation_not_open"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
