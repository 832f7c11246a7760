package web

import (
	"errors"

	"github.com/dukex/contentflow/pkg/approval"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps orchestrator, gate and store errors to problems.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case orchestrator.IsConflict(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, approval.ErrInvalidDecision), errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())

	case persistence.IsRunNotFound(err):
		return notFound(c, "run_not_found", "run not found")

	case persistence.IsApprovalNotFound(err):
		return notFound(c, "approval_not_found", "approval not found")

	case errors.Is(err, orchestrator.ErrShuttingDown):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("unavailable").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		return internalError(c, err)
	}
}
