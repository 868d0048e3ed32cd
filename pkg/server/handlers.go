// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/hookd/pkg/history"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

const maxEventBytes = 1 << 20

// TriggerRequest is the body of POST /v1/events.
type TriggerRequest struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// TriggerResponse is the reply to POST /v1/events.
type TriggerResponse struct {
	Event  hooks.Event               `json:"event"`
	Result executor.AggregatedResult `json:"result"`
	Error  string                    `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "enabled": s.engine.Enabled()})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	eventType, err := hooks.ParseEventType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event := hooks.NewEvent(eventType, req.Data).WithSession(req.SessionID).WithTask(req.TaskID)
	agg, err := s.engine.Trigger(r.Context(), event)

	resp := TriggerResponse{Event: event, Result: agg}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
		var required *hooks.RequiredHookError
		if errors.As(err, &required) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Warn("Trigger failed", "event", event.Type, "error", err)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"hooks": s.engine.Hooks()})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	eventType, err := hooks.ParseEventType(chi.URLParam(r, "event"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := s.engine.Plan(eventType)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleExecutions(w http.ResponseWriter, _ *http.Request) {
	active := s.engine.ActiveExecutions()
	if active == nil {
		active = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.engine.CancelExecution(id) {
		writeError(w, http.StatusNotFound, "execution not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "execution_id": id})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": s.engine.CancelAll()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.history.List(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary, err := s.history.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "summary": summary})
}

func parseQuery(r *http.Request) (history.Query, error) {
	v := r.URL.Query()
	q := history.Query{
		HookID: v.Get("hook"),
		Status: executor.Status(v.Get("status")),
	}
	if e := v.Get("event"); e != "" {
		t, err := hooks.ParseEventType(e)
		if err != nil {
			return q, err
		}
		q.Event = t
	}
	switch q.Status {
	case "", executor.StatusSuccess, executor.StatusFailed, executor.StatusCancelled:
	default:
		return q, errors.New("invalid status (valid: success, failed, cancelled)")
	}
	if since := v.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return q, errors.New("invalid since: expected RFC 3339 time")
		}
		q.Since = t
	}
	if limit := v.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return q, errors.New("invalid limit: expected a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
