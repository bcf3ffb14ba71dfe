package api

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/basekick-labs/transcoder/internal/pipeline"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RunController is the part of the pipeline runner the API drives
type RunController interface {
	Run(ctx context.Context, trigger string) (*pipeline.RunReport, error)
	Running() bool
	History() *pipeline.History
}

// RunsHandler lists run reports and triggers runs on demand
type RunsHandler struct {
	runner RunController
	ctx    context.Context // parent of background runs
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewRunsHandler(ctx context.Context, runner RunController, logger zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		runner: runner,
		ctx:    ctx,
		logger: logger.With().Str("component", "runs-handler").Logger(),
	}
}

// RegisterRoutes registers the run routes
func (h *RunsHandler) RegisterRoutes(app *fiber.App) {
	group := app.Group("/api/v1/runs")
	group.Get("/", h.listRuns)
	group.Post("/", h.triggerRun)
	group.Get("/:id", h.getRun)
}

// Wait blocks until background runs started through the API return or ctx ends
func (h *RunsHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *RunsHandler) listRuns(c *fiber.Ctx) error {
	limit := 20
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be a positive integer"})
		}
		limit = parsed
	}

	runs := h.runner.History().List(limit)
	return c.JSON(fiber.Map{
		"running": h.runner.Running(),
		"count":   len(runs),
		"runs":    runs,
	})
}

func (h *RunsHandler) getRun(c *fiber.Ctx) error {
	report, ok := h.runner.History().Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
	}
	return c.JSON(report)
}

// triggerRun starts a run. With ?wait=true the request blocks and returns the
// report; otherwise the run continues in the background.
func (h *RunsHandler) triggerRun(c *fiber.Ctx) error {
	if h.runner.Running() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": pipeline.ErrRunInProgress.Error()})
	}

	if c.QueryBool("wait") {
		report, err := h.runner.Run(h.ctx, "api")
		if errors.Is(err, pipeline.ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(report)
		}
		return c.JSON(report)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.runner.Run(h.ctx, "api"); errors.Is(err, pipeline.ErrRunInProgress) {
			h.logger.Warn().Msg("Run requested through the API was skipped, another run is active")
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started"})
}
