package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/audit"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

type executeToolBody struct {
	TenantID       string             `json:"tenantId,omitempty"`
	UserID         string             `json:"userId,omitempty"`
	ThreadID       string             `json:"threadId,omitempty"`
	Params         models.TypedParams `json:"params,omitempty"`
	AsyncMode      bool               `json:"asyncMode,omitempty"`
	TimeoutSeconds int                `json:"timeoutSeconds,omitempty"`
}

func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	var body executeToolBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if rc.TenantID == "" {
		rc.TenantID = body.TenantID
	}
	if rc.UserID == "" {
		rc.UserID = body.UserID
	}
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	if body.TimeoutSeconds < 0 {
		writeError(w, apperr.New(apperr.KindValidation, "INVALID_TIMEOUT", "timeoutSeconds must not be negative"))
		return
	}

	req := tools.Request{
		ToolCode: r.PathValue("code"),
		TenantID: rc.TenantID,
		UserID:   rc.UserID,
		ThreadID: body.ThreadID,
		Params:   body.Params,
		Timeout:  time.Duration(body.TimeoutSeconds) * time.Second,
	}

	// Async calls are acknowledged immediately; the outcome lands in the
	// call log. The executor's per-tenant slots still bound the work.
	if body.AsyncMode {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := s.executor.Execute(ctx, req); err != nil {
				s.logger.Warn(ctx, "async tool call failed",
					"tool", req.ToolCode, "error", err)
			}
		}()
		writeData(w, http.StatusAccepted, map[string]any{
			"tool":     req.ToolCode,
			"accepted": true,
		})
		return
	}

	outcome, err := s.executor.Execute(r.Context(), req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindForbidden {
			s.recorder.Record(r.Context(), audit.Security("gateway", rc.TenantID,
				"tool.denied", map[string]any{"tool": req.ToolCode, "user_id": rc.UserID}))
		}
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"tool":       outcome.ToolCode,
		"content":    outcome.Content,
		"status":     outcome.Status,
		"latency_ms": outcome.LatencyMS,
	})
}
