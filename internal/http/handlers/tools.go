package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/clinic-voice-platform/internal/dispatch"
	"github.com/wolfman30/clinic-voice-platform/internal/voicesession"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

const msgToolUnauthorized = "I'm sorry, I'm not able to do that right now."

// Dispatcher executes authenticated tool calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, env dispatch.Envelope, headers http.Header) (dispatch.Result, error)
}

// ToolResponse wraps a single tool result.
type ToolResponse struct {
	Result dispatch.Result `json:"result"`
}

// ToolCallResult is one entry of the platform-native response. Result holds
// the JSON-encoded dispatch.Result because the platform expects a string.
type ToolCallResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

// ToolCallsResponse answers a platform-native tool-calls message.
type ToolCallsResponse struct {
	Results []ToolCallResult `json:"results"`
}

// ToolsHandler receives tool-call webhooks from the voice-AI platform.
type ToolsHandler struct {
	dispatcher Dispatcher
	logger     *logging.Logger
}

// NewToolsHandler creates a ToolsHandler.
func NewToolsHandler(dispatcher Dispatcher, logger *logging.Logger) *ToolsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ToolsHandler{dispatcher: dispatcher, logger: logger}
}

// HandleTool accepts either a flat Envelope or the platform's native
// {"message":{"type":"tool-calls",...}} payload.
// POST /tools/{toolName}
func (h *ToolsHandler) HandleTool(w http.ResponseWriter, r *http.Request) {
	routeTool := chi.URLParam(r, "toolName")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Message: dispatch.GenericApology})
		return
	}

	var native voicesession.Webhook
	if err := json.Unmarshal(body, &native); err == nil && len(native.Message.ToolCalls) > 0 {
		h.handleNative(w, r, native.Message, routeTool)
		return
	}

	var env dispatch.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.Warn("tools: invalid envelope", "tool", routeTool, "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Message: dispatch.GenericApology})
		return
	}
	if strings.TrimSpace(env.ToolName) == "" {
		env.ToolName = routeTool
	}

	result, err := h.dispatcher.Dispatch(r.Context(), env, r.Header)
	if errors.Is(err, dispatch.ErrUnauthorized) {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: msgToolUnauthorized})
		return
	}
	writeJSON(w, http.StatusOK, ToolResponse{Result: result})
}

func (h *ToolsHandler) handleNative(w http.ResponseWriter, r *http.Request, msg voicesession.Message, routeTool string) {
	resp := ToolCallsResponse{Results: make([]ToolCallResult, 0, len(msg.ToolCalls))}
	for _, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			name = routeTool
		}
		env := dispatch.Envelope{
			CallID:         msg.Call.ID,
			DialedNumberID: msg.DialedID(),
			CallerNumber:   msg.CallerNumber(),
			ToolName:       name,
			Parameters:     call.Function.ParsedArguments(),
		}

		result, err := h.dispatcher.Dispatch(r.Context(), env, r.Header)
		if errors.Is(err, dispatch.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: msgToolUnauthorized})
			return
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			h.logger.Error("tools: failed to encode result", "tool", name, "call_id", msg.Call.ID, "error", err)
			encoded, _ = json.Marshal(dispatch.Fail("encode_failed", ""))
		}
		resp.Results = append(resp.Results, ToolCallResult{ToolCallID: call.ID, Result: string(encoded)})
	}
	writeJSON(w, http.StatusOK, resp)
}
