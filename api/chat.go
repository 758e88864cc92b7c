package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/emit"
)

// chatAsyncRequest is the body of POST /sessions/chat_async.
type chatAsyncRequest struct {
	Message              string            `json:"message"`
	SessionID            string            `json:"session_id,omitempty"`
	TenantID             string            `json:"tenant_id"`
	ChatbotID            string            `json:"chatbot_id"`
	CustomerID           string            `json:"customer_id,omitempty"`
	SessionTitle         string            `json:"session_title,omitempty"`
	MD5Checksum          string            `json:"md5_checksum,omitempty"`
	IsPreview            bool              `json:"is_preview,omitempty"`
	Timeout              int               `json:"timeout,omitempty"`
	PreviewActionBookIDs []string          `json:"preview_action_book_ids,omitempty"`
	AutofillParams       map[string]string `json:"autofill_params,omitempty"`
}

type chatAsyncResponse struct {
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
	Message       string `json:"message"`
	TotalTokens   int    `json:"total_tokens"`
}

// handleChatAsync appends the customer message, dispatches a processing
// cycle (cancelling any in-flight cycle for the session) and waits for the
// reply up to the request timeout.
func (s *Server) handleChatAsync(w http.ResponseWriter, r *http.Request) {
	var req chatAsyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid request body"})
		return
	}
	var missing []string
	if req.Message == "" {
		missing = append(missing, "message")
	}
	if req.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if req.ChatbotID == "" {
		missing = append(missing, "chatbot_id")
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")),
		})
		return
	}

	timeout := s.defaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	ctx := core.WithCorrelation(r.Context(), core.NewRootScope())
	correlationID := core.CorrelationID(ctx)

	session, err := s.resolveSession(ctx, req)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	customerEvent, err := s.appendCustomerMessage(ctx, session.ID, req.Message)
	if err != nil {
		s.logger.Error("customer message append failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to record message"})
		return
	}

	publisher := emit.NewPublisher(s.sessions, session.ID, core.EventSourceAIAgent)
	agentID := core.AgentID(req.ChatbotID)
	s.tasks.Dispatch(ctx, string(session.ID), fmt.Sprintf("process-session(%s)", session.ID),
		func(taskCtx context.Context) error {
			_, err := s.engine.Process(taskCtx, session.ID, agentID, publisher)
			return err
		})

	reply, ok := s.awaitReply(ctx, session.ID, customerEvent.Offset, timeout)
	if !ok {
		data, _ := core.MarshalEventData(core.StatusEventData{
			Status: core.StatusError,
			Data:   core.StatusDetails{Exception: "timeout"},
		})
		_, _ = s.sessions.CreateEvent(context.WithoutCancel(ctx), session.ID,
			core.EventKindStatus, core.EventSourceSystem, correlationID, data)
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "reply timed out"})
		return
	}

	writeJSON(w, http.StatusOK, chatAsyncResponse{
		SessionID:     string(session.ID),
		CorrelationID: correlationID,
		Message:       reply,
		TotalTokens:   s.lastCycleTokens(session.ID),
	})
}

// lastCycleTokens reads the most recent inspection record for the session,
// if a registry was configured.
func (s *Server) lastCycleTokens(sessionID core.SessionID) int {
	if s.registry == nil {
		return 0
	}
	inspections := s.registry.Inspections()
	for i := len(inspections) - 1; i >= 0; i-- {
		if inspections[i].SessionID == sessionID {
			return inspections[i].TotalTokens
		}
	}
	return 0
}

func (s *Server) resolveSession(ctx context.Context, req chatAsyncRequest) (*core.Session, error) {
	if req.SessionID != "" {
		session, err := s.sessions.ReadSession(ctx, core.SessionID(req.SessionID))
		if err != nil {
			return nil, fmt.Errorf("unknown session %s", req.SessionID)
		}
		return session, nil
	}

	customerID := req.CustomerID
	if customerID == "" {
		customerID = "guest-" + core.NewID()
	}
	session := &core.Session{
		ID:         core.SessionID(core.NewID()),
		AgentID:    core.AgentID(req.ChatbotID),
		CustomerID: core.CustomerID(customerID),
		Mode:       core.SessionModeAuto,
		Title:      req.SessionTitle,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Server) appendCustomerMessage(ctx context.Context, sessionID core.SessionID, message string) (core.Event, error) {
	data, err := core.MarshalEventData(core.MessageEventData{
		Message:     message,
		Participant: core.Participant{ID: "customer", DisplayName: "Customer"},
	})
	if err != nil {
		return core.Event{}, err
	}
	return s.sessions.CreateEvent(ctx, sessionID, core.EventKindMessage,
		core.EventSourceCustomer, core.CorrelationID(ctx), data)
}

// awaitReply polls the event log until a ready status lands after the
// customer message, then returns the concatenated agent reply.
func (s *Server) awaitReply(
	ctx context.Context,
	sessionID core.SessionID,
	afterOffset int,
	timeout time.Duration,
) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return "", false
		}
		events, err := s.sessions.ListEvents(ctx, sessionID, afterOffset+1, core.EventFilter{})
		if err == nil {
			ready := false
			var parts []string
			for _, ev := range events {
				switch ev.Kind {
				case core.EventKindStatus:
					if data, err := core.DecodeStatusEventData(ev); err == nil && data.Status == core.StatusReady {
						ready = true
					}
				case core.EventKindMessage:
					if ev.Source != core.EventSourceAIAgent {
						continue
					}
					if data, err := core.DecodeMessageEventData(ev); err == nil && !isPreamble(data) {
						parts = append(parts, data.Message)
					}
				}
			}
			if ready {
				return strings.Join(parts, "\n\n"), true
			}
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(s.pollInterval):
		}
	}
}

func isPreamble(data core.MessageEventData) bool {
	for _, tag := range data.Tags {
		if tag == "preamble" {
			return true
		}
	}
	return false
}
