// Package httpapi exposes pipeline reports and manual dispatch over HTTP.
package httpapi

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-release/internal/core/domain"
	"github.com/melih/lighthouse-release/internal/core/pipeline"
)

// Dispatcher runs one pipeline invocation.
type Dispatcher interface {
	Run(ctx context.Context, trig pipeline.Trigger) (*pipeline.Report, error)
}

type Handler struct {
	dispatcher Dispatcher
	log        *logrus.Entry

	mu      sync.RWMutex
	latest  *pipeline.Report
	running bool
}

func NewHandler(dispatcher Dispatcher) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		log:        logrus.WithField("component", "httpapi"),
	}
}

// Register mounts the API routes.
func (h *Handler) Register(app *fiber.App) {
	api := app.Group("/api")
	v1 := api.Group("/v1")
	v1.Get("/report", h.GetReport)
	v1.Get("/report/targets", h.GetTargets)
	v1.Post("/dispatch", h.Dispatch)
}

// GetReport returns the latest completed run report.
func (h *Handler) GetReport(c *fiber.Ctx) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no completed run",
		})
	}
	return c.JSON(h.latest)
}

// GetTargets returns the per-target breakdown table of the latest run.
func (h *Handler) GetTargets(c *fiber.Ctx) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no completed run",
		})
	}
	return c.JSON(h.latest.Targets)
}

type dispatchRequest struct {
	CustomTag string `json:"custom_tag"`
	ForcePush bool   `json:"force_push"`
	Target    string `json:"target"`
}

// Dispatch starts a manual pipeline run in the background and returns
// immediately; the report becomes available once the run completes.
func (h *Handler) Dispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a run is already in progress",
		})
	}
	h.running = true
	h.mu.Unlock()

	trig := pipeline.Trigger{
		Kind:      domain.TriggerManual,
		CustomTag: req.CustomTag,
		ForcePush: req.ForcePush,
		Target:    req.Target,
	}
	go func() {
		report, err := h.dispatcher.Run(context.Background(), trig)
		if err != nil {
			h.log.WithError(err).Error("dispatched run failed")
		}
		h.mu.Lock()
		h.latest = report
		h.running = false
		h.mu.Unlock()
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "accepted",
		"trigger": trig,
	})
}
