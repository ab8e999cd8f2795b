package api

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/railsim/railsim_core/internal/cache"
	"github.com/railsim/railsim_core/internal/feed"
	"github.com/railsim/railsim_core/internal/models"
	"github.com/railsim/railsim_core/internal/sim"
	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	defaultStepMinutes = 60
	maxStepMinutes     = 1440
)

// Handler serves the simulation over HTTP. rdb may be nil when redis is disabled.
type Handler struct {
	engine *sim.Engine
	rdb    *redis.Client
}

// NewHandler creates the HTTP handlers for engine
func NewHandler(engine *sim.Engine, rdb *redis.Client) *Handler {
	return &Handler{engine: engine, rdb: rdb}
}

// Register mounts the simulation routes on router. stepLimit wraps the manual step only.
func (h *Handler) Register(router fiber.Router, stepLimit ...fiber.Handler) {
	g := router.Group("/simulation")
	g.Get("/status", h.Status)
	g.Get("/trains", h.Trains)
	g.Get("/trains/:id", h.Train)
	g.Get("/stations", h.Stations)
	g.Get("/stations/:id/departures", h.StationDepartures)
	g.Get("/stations/:id/passengers", h.StationPassengers)
	g.Get("/routes/:id/schedule", h.RouteSchedule)
	g.Get("/delays", h.Delays)
	g.Get("/feed", h.Feed)
	g.Post("/step", append(stepLimit, h.Step)...)
	g.Post("/trains/:id/vehicles", h.AssignVehicle)
	g.Delete("/trains/:id/vehicles/:vehicleId", h.RemoveVehicle)
}

// Health handles the /health endpoint
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	storeErr := h.engine.Ping(ctx)
	storeStatus := "ok"
	if storeErr != nil {
		storeStatus = storeErr.Error()
	}

	var redisErr error
	redisStatus := "disabled"
	if h.rdb != nil {
		redisStatus = "ok"
		if redisErr = cache.HealthCheck(ctx, h.rdb); redisErr != nil {
			redisStatus = redisErr.Error()
		}
	}

	status := "healthy"
	httpStatus := 200
	if storeErr != nil || redisErr != nil {
		status = "unhealthy"
		httpStatus = 503
	}

	sv := h.engine.Status()
	resp := fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"store":      storeStatus,
			"redis":      redisStatus,
			"simulation": passHealth(sv),
		},
		"current_time": sv.CurrentTime,
	}
	if h.rdb != nil {
		resp["redis_pool"] = cache.Stats(h.rdb)
	}
	return c.Status(httpStatus).JSON(resp)
}

func passHealth(sv sim.StatusView) string {
	if sv.ConsecutiveFailures > 0 {
		return fmt.Sprintf("stalled after %d failed passes: %s", sv.ConsecutiveFailures, sv.LastError)
	}
	return "ok"
}

// Status handles GET /v2/simulation/status
func (h *Handler) Status(c *fiber.Ctx) error {
	return c.JSON(h.engine.Status())
}

// Trains handles GET /v2/simulation/trains
func (h *Handler) Trains(c *fiber.Ctx) error {
	status := models.TrainStatus(c.Query("status"))
	switch status {
	case "", models.StatusUnassigned, models.StatusScheduled, models.StatusRunning,
		models.StatusDelayed, models.StatusTerminated:
	default:
		return c.Status(400).JSON(fiber.Map{
			"error":   "invalid_status",
			"message": fmt.Sprintf("unknown train status %q", status),
		})
	}

	trains := h.engine.TrainsStatus(status)
	return c.JSON(fiber.Map{
		"current_time": h.engine.CurrentTime(),
		"trains":       trains,
		"total":        len(trains),
	})
}

// Train handles GET /v2/simulation/trains/:id
func (h *Handler) Train(c *fiber.Ctx) error {
	view, err := h.engine.TrainStatus(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// Stations handles GET /v2/simulation/stations
func (h *Handler) Stations(c *fiber.Ctx) error {
	stations := h.engine.StationsStatus()
	return c.JSON(fiber.Map{
		"current_time": h.engine.CurrentTime(),
		"stations":     stations,
		"total":        len(stations),
	})
}

// StationPassengers handles GET /v2/simulation/stations/:id/passengers
func (h *Handler) StationPassengers(c *fiber.Ctx) error {
	view, err := h.engine.StationPassengers(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// Delays handles GET /v2/simulation/delays
func (h *Handler) Delays(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"policy": h.engine.Status().DelayPolicy,
		"routes": h.engine.DelayStats(),
	})
}

// Feed handles GET /v2/simulation/feed. The feed is protobuf unless format=json.
// Encoded feeds are cached per pass when redis is enabled.
func (h *Handler) Feed(c *fiber.Ctx) error {
	format := c.Query("format", "pb")
	contentType := "application/x-protobuf"
	switch format {
	case "pb":
	case "json":
		contentType = fiber.MIMEApplicationJSON
	default:
		return c.Status(400).JSON(fiber.Map{
			"error":   "invalid_format",
			"message": "format must be pb or json",
		})
	}
	c.Set(fiber.HeaderContentType, contentType)

	passID := h.engine.Status().LastPassID
	cacheKey := cache.FeedKey(passID, format)
	if h.rdb != nil && passID != "" {
		if cached, err := cache.GetBytes(c.Context(), h.rdb, cacheKey); err == nil && cached != nil {
			c.Set("X-Cache", "HIT")
			return c.Send(cached)
		}
	}

	msg := feed.Build(h.engine.CurrentTime(), h.engine.TrainsStatus(""), h.engine.StationsStatus())

	var body []byte
	var err error
	if format == "json" {
		body, err = protojson.Marshal(msg)
	} else {
		body, err = proto.Marshal(msg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode feed: %w", err)
	}

	if h.rdb != nil && passID != "" {
		if err := cache.SetBytes(c.Context(), h.rdb, cacheKey, body, cache.FeedTTL); err != nil {
			log.Printf("Warning: failed to cache feed: %v", err)
		}
	}
	return c.Send(body)
}

// Step handles POST /v2/simulation/step?minutes=60
func (h *Handler) Step(c *fiber.Ctx) error {
	minutes := defaultStepMinutes
	if raw := c.Query("minutes"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || m > maxStepMinutes {
			return c.Status(400).JSON(fiber.Map{
				"error":   "invalid_minutes",
				"message": fmt.Sprintf("minutes must be an integer between 1 and %d", maxStepMinutes),
			})
		}
		minutes = m
	}

	before := h.engine.CurrentTime()
	if err := h.engine.Step(c.Context(), time.Duration(minutes)*time.Minute); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"stepped_minutes": minutes,
		"previous_time":   before,
		"status":          h.engine.Status(),
	})
}

// AssignVehicleRequest is the body of POST /v2/simulation/trains/:id/vehicles
type AssignVehicleRequest struct {
	VehicleID string `json:"vehicle_id"`
	Position  *int   `json:"position,omitempty"` // appended when omitted
}

// AssignVehicle handles POST /v2/simulation/trains/:id/vehicles
func (h *Handler) AssignVehicle(c *fiber.Ctx) error {
	var req AssignVehicleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error":   "invalid_body",
			"message": "body must be JSON with vehicle_id and optional position",
		})
	}
	if req.VehicleID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error":   "missing_vehicle_id",
			"message": "vehicle_id is required",
		})
	}

	position := -1
	if req.Position != nil {
		position = *req.Position
	}

	train, err := h.engine.AssignVehicle(c.Context(), c.Params("id"), req.VehicleID, position)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"train_id": train.ID, "vehicles": train.Vehicles})
}

// RemoveVehicle handles DELETE /v2/simulation/trains/:id/vehicles/:vehicleId
func (h *Handler) RemoveVehicle(c *fiber.Ctx) error {
	train, err := h.engine.RemoveVehicle(c.Context(), c.Params("id"), c.Params("vehicleId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"train_id": train.ID, "vehicles": train.Vehicles})
}
