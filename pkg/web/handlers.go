// Package web provides the HTTP boundary of the content pipeline: runs,
// approvals, the chat webhook, the journal and health checks.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/contentflow/pkg/approval"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	orchestrator *orchestrator.Orchestrator
	validator    *validator.Validate
}

func NewAPIHandlers(orchestrator *orchestrator.Orchestrator, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		orchestrator: orchestrator,
		validator:    validator,
	}
}

// Routes mounts every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	r := router.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Post("/", h.StartRun)
	r.Get("/:id", h.GetRun)
	r.Get("/:id/approvals", h.GetRunApprovals)
	r.Post("/:id/abort", h.AbortRun)
	r.Post("/:id/resume", h.ResumeRun)

	a := router.Group("/approvals")
	a.Get("/", h.GetApprovals)
	a.Get("/:id", h.GetApproval)
	a.Post("/:id/resolve", h.ResolveApproval)

	router.Post("/webhooks/approvals", h.ApprovalWebhook)
	router.Get("/logs", h.GetLogs)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	check := "ok"

	err := h.orchestrator.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": check,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	handle, err := h.orchestrator.Start(c.Context(), orchestrator.StartRequest{
		Trigger: req.Trigger,
		Kind:    req.Kind,
		Seed:    req.Seed,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	run, err := h.orchestrator.Run(c.Context(), handle.RunID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	opts := persistence.ListRunsOptions{}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.RunStatus(statusStr)

		switch status {
		case models.RunStatusRunning, models.RunStatusPaused, models.RunStatusCompleted, models.RunStatusFailed:
			opts.Status = &status
		default:
			return badRequest(c, "Invalid status: "+statusStr)
		}
	}

	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	opts.Limit = limit

	runs, err := h.orchestrator.Runs(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.orchestrator.Run(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunApprovals(c fiber.Ctx) error {
	id := c.Params("id")

	_, err := h.orchestrator.Run(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	approvals, err := h.orchestrator.RunApprovals(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": approvals})
}

func (h *APIHandlers) AbortRun(c fiber.Ctx) error {
	var req AbortRunRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.orchestrator.Abort(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

// ResumeRun re-dispatches a running run left without an execution.
func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	id := c.Params("id")

	_, err := h.orchestrator.Resume(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	run, err := h.orchestrator.Run(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *APIHandlers) GetApprovals(c fiber.Ctx) error {
	status := models.ApprovalStatus(c.Query("status"))
	if status != "" && status != models.ApprovalStatusPending && !status.IsDecision() {
		return badRequest(c, "Invalid status: "+string(status))
	}

	approvals, err := h.orchestrator.Approvals(c.Context(), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"approvals":   approvals,
		"total_count": len(approvals),
	})
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	found, err := h.orchestrator.Approval(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(found)
}

func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resolution, _, err := h.orchestrator.ResolveApproval(c.Context(), c.Params("id"), req.decision())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(resolutionResponse(resolution))
}

// ApprovalWebhook resolves the approval referenced by a chat callback.
func (h *APIHandlers) ApprovalWebhook(c fiber.Ctx) error {
	var payload map[string]any
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := validateWebhookPayload(payload); err != nil {
		return badRequest(c, err.Error())
	}

	var callback WebhookDecision
	if err := c.Bind().JSON(&callback); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req := ResolveApprovalRequest{
		Decision: callback.Decision,
		Reviewer: callback.Reviewer,
		Feedback: callback.Feedback,
	}

	resolution, _, err := h.orchestrator.ResolveByMessageRef(c.Context(), callback.MessageRef, req.decision())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(resolutionResponse(resolution))
}

func (h *APIHandlers) GetLogs(c fiber.Ctx) error {
	filter := models.LogFilter{
		CorrelationID: c.Query("correlation_id"),
		Severity:      models.Severity(c.Query("severity")),
	}

	if filter.Severity != "" && !filter.Severity.IsValid() {
		return badRequest(c, "Invalid severity: "+string(filter.Severity))
	}

	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid limit: "+err.Error())
	}

	filter.Limit = limit

	entries, err := h.orchestrator.Logs(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"entries":     entries,
		"total_count": len(entries),
	})
}

func parseLimit(c fiber.Ctx) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, err
	}

	if limit < 0 {
		return 0, strconv.ErrRange
	}

	return limit, nil
}

func resolutionResponse(resolution *approval.Resolution) ResolutionResponse {
	return ResolutionResponse{
		Approval: resolution.Approval,
		Run:      resolution.Run,
		Resumed:  resolution.Resumable(),
	}
}
