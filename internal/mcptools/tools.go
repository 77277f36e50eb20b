// Package mcptools exposes the orchestrator operations as MCP tools.
//
// Every tool takes optional session_id and principal_id arguments that
// default to the server's configured scope. Successful calls return the
// operation result as JSON text; rejected calls return the same JSON as a
// tool error so the agent can read the error code.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aristath/taskgraph/internal/orchestrator"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// Tool names.
const (
	ToolCreatePlan   = "create_plan"
	ToolUpdateTask   = "update_task"
	ToolCompleteTask = "complete_task"
	ToolGetStatus    = "get_status"
	ToolAddTasks     = "add_tasks"
)

// Handlers binds tool calls to a Service.
type Handlers struct {
	svc      *orchestrator.Service
	defaults orchestrator.Scope
}

// NewHandlers creates the tool handlers. defaults fills in session and
// principal ids the caller leaves out; either may be empty.
func NewHandlers(svc *orchestrator.Service, defaults orchestrator.Scope) *Handlers {
	return &Handlers{svc: svc, defaults: defaults}
}

// NewServer creates an MCP server with every tool registered.
func NewServer(name, version string, h *Handlers) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	h.Register(s)
	return s
}

// Register adds the tools to s.
func (h *Handlers) Register(s *server.MCPServer) {
	s.AddTool(createPlanTool(), h.CreatePlan)
	s.AddTool(updateTaskTool(), h.UpdateTask)
	s.AddTool(completeTaskTool(), h.CompleteTask)
	s.AddTool(getStatusTool(), h.GetStatus)
	s.AddTool(addTasksTool(), h.AddTasks)
}

const instructions = `Plan work as a dependency graph of tasks.
Call create_plan once per session, then get_status to find the next task.
Mark tasks in_progress when you start and complete_task when done; every
response includes the next available task and overall progress.`

func scopeOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("session_id",
			mcp.Description("Session the plan belongs to (defaults to the server session)")),
		mcp.WithString("principal_id",
			mcp.Description("Principal that owns the plan (defaults to the server principal)")),
	}
}

func specsOption(description string) mcp.ToolOption {
	return mcp.WithArray("tasks",
		mcp.Required(),
		mcp.Description(description),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":             map[string]any{"type": "string"},
				"description":       map[string]any{"type": "string"},
				"dependencies":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"estimatedDuration": map[string]any{"type": "string"},
			},
			"required": []string{"title"},
		}),
	)
}

func createPlanTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Create the task plan of a session. Returns the existing plan unchanged if the session already has one."),
		specsOption("Tasks in plan order. Dependencies name earlier or later tasks by id or exact title."),
	}, scopeOptions()...)
	return mcp.NewTool(ToolCreatePlan, opts...)
}

func updateTaskTool() mcp.Tool {
	statuses := make([]string, len(scheduler.Statuses))
	for i, s := range scheduler.Statuses {
		statuses[i] = string(s)
	}
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Set the status of one task."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to update")),
		mcp.WithString("status", mcp.Required(), mcp.Enum(statuses...), mcp.Description("New status")),
	}, scopeOptions()...)
	return mcp.NewTool(ToolUpdateTask, opts...)
}

func completeTaskTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Mark one task completed and get the next available task."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to complete")),
	}, scopeOptions()...)
	return mcp.NewTool(ToolCompleteTask, opts...)
}

func getStatusTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Read the plan, its progress and the next available task."),
	}, scopeOptions()...)
	return mcp.NewTool(ToolGetStatus, opts...)
}

func addTasksTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Append tasks to the session's plan. Existing tasks are left as they are."),
		specsOption("Tasks to append. Dependencies may name existing tasks by id or title."),
	}, scopeOptions()...)
	return mcp.NewTool(ToolAddTasks, opts...)
}

// CreatePlan handles create_plan.
func (h *Handlers) CreatePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	specs, err := specsArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.svc.CreatePlan(ctx, h.scope(req), specs)
	return respond(res, res.Result, err)
}

// UpdateTask handles update_task.
func (h *Handlers) UpdateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.svc.UpdateTask(ctx, h.scope(req), taskID, scheduler.Status(status))
	return respond(res, res.Result, err)
}

// CompleteTask handles complete_task.
func (h *Handlers) CompleteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.svc.CompleteTask(ctx, h.scope(req), taskID)
	return respond(res, res.Result, err)
}

// GetStatus handles get_status.
func (h *Handlers) GetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.svc.GetStatus(ctx, h.scope(req))
	return respond(res, res.Result, err)
}

// AddTasks handles add_tasks.
func (h *Handlers) AddTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	specs, err := specsArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.svc.AddTasks(ctx, h.scope(req), specs)
	return respond(res, res.Result, err)
}

func (h *Handlers) scope(req mcp.CallToolRequest) orchestrator.Scope {
	return orchestrator.Scope{
		SessionID:   req.GetString("session_id", h.defaults.SessionID),
		PrincipalID: req.GetString("principal_id", h.defaults.PrincipalID),
	}
}

// specsArg decodes the tasks argument through JSON so the object fields
// map onto scheduler.Spec tags.
func specsArg(req mcp.CallToolRequest) ([]scheduler.Spec, error) {
	raw, ok := req.GetArguments()["tasks"]
	if !ok {
		return nil, fmt.Errorf("required argument %q not found", "tasks")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}
	var specs []scheduler.Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("tasks must be a list of task objects: %w", err)
	}
	return specs, nil
}

// respond turns an operation result into a tool result. A store failure
// is reported with its code and cause.
func respond(payload any, res orchestrator.Result, opErr error) (*mcp.CallToolResult, error) {
	if opErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", res.Error, opErr)), nil
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if !res.Success {
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
