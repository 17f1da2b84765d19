package rest

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"yqhp/flowrunner/internal/store"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// listRuns handles GET /api/v1/runs
func (s *Server) listRuns(c *fiber.Ctx) error {
	runs, err := s.store.ListRuns()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: err.Error(),
		})
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, RunSummary{
			RunID:      run.RunID,
			WorkflowID: run.WorkflowID,
			Status:     string(run.Status),
			Steps:      len(run.Steps),
			CreatedAt:  run.CreatedAt,
			UpdatedAt:  run.UpdatedAt,
		})
	}
	return c.JSON(summaries)
}

// getRun handles GET /api/v1/runs/:id
func (s *Server) getRun(c *fiber.Ctx) error {
	state, err := s.store.LoadState(c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Error:   "run_not_found",
				Message: err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "load_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(state)
}

// listWorkflows handles GET /api/v1/workflows
func (s *Server) listWorkflows(c *fiber.Ctx) error {
	defs, err := s.loader.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: err.Error(),
		})
	}

	summaries := make([]WorkflowSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, WorkflowSummary{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Steps:       len(def.Steps),
		})
	}
	return c.JSON(summaries)
}
