package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/zkgate/internal/errors"
	"github.com/R3E-Network/zkgate/internal/events"
	internalhttputil "github.com/R3E-Network/zkgate/internal/httputil"
	"github.com/R3E-Network/zkgate/internal/loader"
	"github.com/R3E-Network/zkgate/internal/registry"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// =============================================================================
// Request / response shapes
// =============================================================================

type operationRequest struct {
	ProgramID string          `json:"program_id,omitempty"`
	Input     json.RawMessage `json:"input"`
}

type verifyRequest struct {
	ProgramID string `json:"program_id,omitempty"`
	Proof     string `json:"proof"`
}

type registerResponse struct {
	ProgramID string `json:"program_id"`
	Digest    string `json:"digest"`
	Status    string `json:"status"`
	Replaced  bool   `json:"replaced"`
}

// ProgramView is a registry entry without its engine.
type ProgramView struct {
	ProgramID       string    `json:"program_id"`
	Vendor          string    `json:"vendor"`
	Name            string    `json:"name,omitempty"`
	Digest          string    `json:"digest,omitempty"`
	CompilerVersion string    `json:"compiler_version,omitempty"`
	Operations      []string  `json:"operations"`
	RegisteredAt    time.Time `json:"registered_at"`
}

type healthResponse struct {
	Status    string     `json:"status"`
	Service   string     `json:"service"`
	Version   string     `json:"version"`
	Programs  int        `json:"programs"`
	Prover    proverLoad `json:"prover"`
	Timestamp time.Time  `json:"timestamp"`
}

type proverLoad struct {
	Active  int `json:"active"`
	Waiting int `json:"waiting"`
}

func newProgramView(e *registry.Entry) ProgramView {
	ops := make([]string, 0, 3)
	for _, op := range zkvm.Operations() {
		if zkvm.Supports(e.Engine, op) {
			ops = append(ops, op.String())
		}
	}
	return ProgramView{
		ProgramID:       e.ID.String(),
		Vendor:          e.Vendor.String(),
		Name:            e.Name,
		Digest:          e.Digest,
		CompilerVersion: e.CompilerVersion,
		Operations:      ops,
		RegisteredAt:    e.RegisteredAt,
	}
}

// programID picks the id from the path, falling back to the body.
func programID(r *http.Request, fromBody string) (registry.ProgramID, error) {
	if id := strings.TrimSpace(mux.Vars(r)["program_id"]); id != "" {
		return registry.ProgramID(id), nil
	}
	if id := strings.TrimSpace(fromBody); id != "" {
		return registry.ProgramID(id), nil
	}
	return "", errors.MalformedInput("program_id is required", nil)
}

// =============================================================================
// Operations
// =============================================================================

func (h *handler) decodeOperation(w http.ResponseWriter, r *http.Request) (registry.ProgramID, zkvm.Input, bool) {
	var req operationRequest
	if err := internalhttputil.DecodeJSON(w, r, h.maxBody, &req); err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return "", nil, false
	}
	id, err := programID(r, req.ProgramID)
	if err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return "", nil, false
	}
	if len(req.Input) == 0 {
		internalhttputil.WriteServiceError(w, r, errors.MalformedInput("input is required", nil))
		return "", nil, false
	}
	return id, zkvm.Input(req.Input), true
}

func (h *handler) execute(w http.ResponseWriter, r *http.Request) {
	id, input, ok := h.decodeOperation(w, r)
	if !ok {
		return
	}
	result, err := h.dispatch.Execute(r.Context(), id, input)
	if err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) prove(w http.ResponseWriter, r *http.Request) {
	id, input, ok := h.decodeOperation(w, r)
	if !ok {
		return
	}
	result, err := h.dispatch.Prove(r.Context(), id, input)
	if err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := internalhttputil.DecodeJSON(w, r, h.maxBody, &req); err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return
	}
	id, err := programID(r, req.ProgramID)
	if err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return
	}
	proof, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Proof))
	if err != nil {
		internalhttputil.WriteServiceError(w, r, errors.MalformedInput(fmt.Sprintf("invalid base64 encoding: %v", err), err))
		return
	}

	result, err := h.dispatch.Verify(r.Context(), id, proof)
	if err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, result)
}

// =============================================================================
// Programs
// =============================================================================

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var up loader.Upload
	if err := internalhttputil.DecodeJSON(w, r, h.maxBody, &up); err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return
	}

	reg, err := h.loader.Register(r.Context(), up)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).WithField("zkvm", up.ZkVM).Warn("Program registration failed")
		internalhttputil.WriteServiceError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, registerResponse{
		ProgramID: reg.ProgramID,
		Digest:    reg.Digest,
		Status:    reg.Status,
		Replaced:  reg.Replaced,
	})
}

func (h *handler) listPrograms(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.List()
	out := make([]ProgramView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newProgramView(e))
	}
	internalhttputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) getProgram(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["program_id"]
	entry, ok := h.registry.Lookup(registry.ProgramID(id))
	if !ok {
		internalhttputil.WriteServiceError(w, r, errors.NotFound("program", id))
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, newProgramView(entry))
}

func (h *handler) removeProgram(w http.ResponseWriter, r *http.Request) {
	if err := h.loader.Remove(r.Context(), mux.Vars(r)["program_id"]); err != nil {
		internalhttputil.WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Host and service status
// =============================================================================

func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	internalhttputil.WriteJSON(w, http.StatusOK, h.host.Get(r.Context()))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	stats := h.dispatch.ProverStats()
	internalhttputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   ServiceName,
		Version:   h.version,
		Programs:  h.registry.Len(),
		Prover:    proverLoad{Active: stats.Active, Waiting: stats.Waiting},
		Timestamp: h.now().UTC(),
	})
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			internalhttputil.WriteServiceError(w, r, errors.MalformedInput("limit must be a positive integer", err))
			return
		}
		limit = min(n, maxEventLimit)
	}
	if h.events == nil {
		internalhttputil.WriteJSON(w, http.StatusOK, []events.Event{})
		return
	}

	var out []events.Event
	switch {
	case r.URL.Query().Get("program_id") != "":
		out = h.events.RecentByProgram(r.URL.Query().Get("program_id"), limit)
	case r.URL.Query().Get("type") != "":
		out = h.events.RecentByType(events.EventType(r.URL.Query().Get("type")), limit)
	default:
		out = h.events.Recent(limit)
	}
	internalhttputil.WriteJSON(w, http.StatusOK, out)
}
