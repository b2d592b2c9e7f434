package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/event"
	domainwf "github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	exportLimit      = 10000
	portalInitiator  = "portal_user"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Store     string `json:"store"`
}

// CommandResponse is the answer to every command-carrying request
type CommandResponse struct {
	Status    string             `json:"status"`
	Message   string             `json:"message"`
	Applied   bool               `json:"applied"`
	State     domainwf.State     `json:"state,omitempty"`
	Retryable bool               `json:"retryable,omitempty"`
	Workflow  *domainwf.Workflow `json:"workflow,omitempty"`
}

// WorkflowView is a workflow plus the events the portal may offer for it
type WorkflowView struct {
	*domainwf.Workflow
	AvailableEvents []domainwf.EventType `json:"availableEvents"`
	Terminal        bool                 `json:"terminal"`
}

// BotRequest is the chat payload sent by the intake widget
type BotRequest struct {
	Message             string             `json:"message"`
	ConversationHistory []port.ChatMessage `json:"conversationHistory"`
}

// DecisionRequest is the portal's approve/deny form
type DecisionRequest struct {
	WorkflowID  string  `json:"workflowId" binding:"required"`
	Decision    string  `json:"decision" binding:"required,oneof=APPROVE DENY"`
	Notes       *string `json:"notes"`
	InitiatedBy string  `json:"initiatedBy"`
}

// RollbackRequest reopens a decided workflow
type RollbackRequest struct {
	WorkflowID  string `json:"workflowId" binding:"required"`
	InitiatedBy string `json:"initiatedBy"`
}

// ListWorkflowsRequest represents query parameters for listing workflows
type ListWorkflowsRequest struct {
	State string `form:"state"`
	Limit int    `form:"limit"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Store:     "ok",
	}

	if h.deps.Health != nil {
		if err := h.deps.Health.Ping(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			response.Status = "unhealthy"
			response.Store = err.Error()
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: response, Error: "store unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// Bot handles POST /api/bot. The body is either a BotRequest or plain text.
func (h *Handlers) Bot(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "could not read request body"})
		return
	}

	var req BotRequest
	if err := json.Unmarshal(body, &req); err != nil || (req.Message == "" && len(req.ConversationHistory) == 0) {
		req = BotRequest{Message: string(bytes.TrimSpace(body))}
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "message is required"})
		return
	}

	reply, err := h.deps.Intake.HandleMessage(c.Request.Context(), req.Message, req.ConversationHistory)
	if err != nil {
		h.logger.Error("Intake failed", "error", err)
		c.JSON(statusFor(err), gin.H{"message": "failed to process message"})
		return
	}

	c.JSON(http.StatusOK, reply)
}

// IngestCommand handles POST /api/workflows, the queue delivery endpoint
func (h *Handlers) IngestCommand(c *gin.Context) {
	var cmd event.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		h.logger.Error("Invalid command body", "error", err)
		c.JSON(http.StatusBadRequest, CommandResponse{Status: "error", Message: "invalid command body"})
		return
	}

	h.process(c, &cmd)
}

// SubmitDecision handles POST /api/workflow-decision
func (h *Handlers) SubmitDecision(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CommandResponse{Status: "error", Message: "decision must be APPROVE or DENY and workflowId is required"})
		return
	}

	if req.Decision == "DENY" && (req.Notes == nil || strings.TrimSpace(*req.Notes) == "") {
		c.JSON(http.StatusBadRequest, CommandResponse{Status: "error", Message: "notes are required when denying a request"})
		return
	}

	decision, err := event.ParseDecision(req.Decision)
	if err != nil {
		c.JSON(http.StatusBadRequest, CommandResponse{Status: "error", Message: err.Error()})
		return
	}

	cmd := event.NewCommand(req.WorkflowID, domainwf.EventActionSubmitted,
		domainwf.StateHumanActionCompleted, initiator(req.InitiatedBy)).
		WithDecision(decision, req.Notes)
	submittedAt := cmd.IssuedAt
	cmd.SubmittedAt = &submittedAt

	h.process(c, cmd)
}

// Rollback handles POST /api/workflow-rollback
func (h *Handlers) Rollback(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CommandResponse{Status: "error", Message: "workflowId is required"})
		return
	}

	cmd := event.NewCommand(req.WorkflowID, domainwf.EventActionRolledBack,
		domainwf.StateRequested, initiator(req.InitiatedBy))
	h.process(c, cmd)
}

func (h *Handlers) process(c *gin.Context, cmd *event.Command) {
	outcome, err := h.deps.Commands.Process(c.Request.Context(), cmd)
	if err != nil {
		h.logger.Error("Command rejected",
			"workflow_id", cmd.WorkflowID,
			"event_type", cmd.EventType,
			"error", err,
		)
		c.JSON(statusFor(err), CommandResponse{
			Status:    "error",
			Message:   err.Error(),
			Retryable: errors.Is(err, domainwf.ErrConflict),
		})
		return
	}

	message := "Workflow updated"
	if !outcome.Applied {
		message = "Command already applied"
	}
	c.JSON(http.StatusOK, CommandResponse{
		Status:   "success",
		Message:  message,
		Applied:  outcome.Applied,
		State:    outcome.NewState,
		Workflow: outcome.Workflow,
	})
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	filter, ok := h.bindFilter(c, defaultListLimit, maxListLimit)
	if !ok {
		return
	}

	workflows, err := h.deps.Engine.ListWorkflows(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list workflows", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to retrieve workflows"})
		return
	}
	if workflows == nil {
		workflows = []*domainwf.Workflow{}
	}

	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id := c.Param("id")

	wf, err := h.deps.Engine.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, domainwf.ErrNotFound) {
			h.logger.Error("Failed to get workflow", "workflow_id", id, "error", err)
		}
		c.JSON(statusFor(err), gin.H{"message": "Workflow not found", "status": "error"})
		return
	}

	c.JSON(http.StatusOK, WorkflowView{
		Workflow:        wf,
		AvailableEvents: h.deps.Engine.AvailableEvents(c.Request.Context(), wf),
		Terminal:        wf.CurrentState.IsTerminal(),
	})
}

// ExportWorkflows handles GET /api/workflows/export.xlsx
func (h *Handlers) ExportWorkflows(c *gin.Context) {
	filter, ok := h.bindFilter(c, exportLimit, exportLimit)
	if !ok {
		return
	}

	workflows, err := h.deps.Engine.ListWorkflows(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list workflows for export", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to retrieve workflows"})
		return
	}

	var buf bytes.Buffer
	if err := h.deps.Exporter.Export(c.Request.Context(), &buf, workflows); err != nil {
		h.logger.Error("Failed to export workflows", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to export workflows"})
		return
	}

	filename := fmt.Sprintf("workflows-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handlers) bindFilter(c *gin.Context, defaultLimit, maxLimit int) (port.WorkflowFilter, bool) {
	var req ListWorkflowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid query parameters"})
		return port.WorkflowFilter{}, false
	}

	filter := port.WorkflowFilter{Limit: req.Limit}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultLimit
	case filter.Limit > maxLimit:
		filter.Limit = maxLimit
	}

	if req.State != "" {
		state := domainwf.State(strings.ToUpper(req.State))
		if !state.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"message": "unknown state " + strconv.Quote(req.State)})
			return port.WorkflowFilter{}, false
		}
		filter.State = state
	}
	return filter, true
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrUnknownEventType), errors.Is(err, domainwf.ErrUnknownWorkflowType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, domainwf.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrInvalidCommand), errors.Is(err, domainwf.ErrInvalidContext):
		return http.StatusBadRequest
	case errors.Is(err, domainwf.ErrExtractionUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func initiator(name string) string {
	if strings.TrimSpace(name) == "" {
		return portalInitiator
	}
	return name
}
