package httpapi

import (
	"errors"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"

	"github.com/thinksystem/sleet/flow"
	"github.com/thinksystem/sleet/orchestrator"
	"github.com/thinksystem/sleet/storage"
	"github.com/thinksystem/sleet/value"
)

// transpileRequest is the POST /v1/flows body: a flow.FlowDefinition as
// documented in spec §6.
type transpileRequest = flow.FlowDefinition

type transpileResponse struct {
	ContractID string `json:"contract_id"`
	Revision   int    `json:"revision"`
	StartBlock string `json:"start_block_id"`
}

// handleTranspile compiles a flow definition into a Contract and keeps it
// addressable by (id, revision) for subsequent session starts. When a
// store is configured, the source definition is also persisted so
// LoadPersistedContracts can recover it after a restart.
func (s *Server) handleTranspile(c *gin.Context) {
	var def transpileRequest
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorEnvelope{Kind: "InvalidInput", Message: err.Error()}})
		return
	}
	ct, err := flow.Transpile(&def, s.ffi)
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, err)
		return
	}
	rev := s.rememberContract(ct)

	if s.store != nil {
		data, err := cbor.Marshal(def)
		if err != nil {
			writeError(c, http.StatusInternalServerError, err)
			return
		}
		if err := s.store.SaveContract(storage.ContractRecord{ID: ct.ID, Version: rev, Definition: data}); err != nil {
			writeError(c, http.StatusInternalServerError, err)
			return
		}
	}

	c.JSON(http.StatusCreated, transpileResponse{ContractID: ct.ID, Revision: rev, StartBlock: ct.StartBlockID})
}

type startRequest struct {
	ContractID   string      `json:"contract_id"`
	Revision     int         `json:"revision,omitempty"`
	Tenant       string      `json:"tenant,omitempty"`
	GasBudget    uint64      `json:"gas_budget,omitempty"`
	InitialState value.Value `json:"initial_state,omitempty"`
	TimeoutSecs  int         `json:"timeout_seconds,omitempty"`
}

type sessionResponse struct {
	SessionID string                `json:"session_id"`
	Status    string                `json:"status"`
	Awaiting  *awaitingView         `json:"awaiting,omitempty"`
	Result    *value.Value          `json:"result,omitempty"`
	Error     *errorEnvelope        `json:"error,omitempty"`
	Resource  orchestrator.ResourceAllocation `json:"resource"`
}

type awaitingView struct {
	Kind          string `json:"kind"`
	InteractionID string `json:"interaction_id,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
}

func viewToResponse(v orchestrator.View) sessionResponse {
	resp := sessionResponse{
		SessionID: v.ID,
		Status:    v.Status.String(),
		Resource:  v.Resource,
	}
	if v.SuspendedInteraction != nil {
		resp.Awaiting = &awaitingView{
			Kind:          v.SuspendedInteraction.Kind.String(),
			InteractionID: v.SuspendedInteraction.InteractionID,
			AgentID:       v.SuspendedInteraction.AgentID,
		}
	}
	if v.Status == orchestrator.StatusCompleted {
		result := v.Result
		resp.Result = &result
	}
	if v.Err != nil {
		resp.Error = &errorEnvelope{
			Kind:              string(v.Err.Kind),
			Message:           v.Err.Message,
			SessionID:         v.ID,
			BlockID:           v.Err.BlockID,
			InstructionOffset: v.Err.InstructionOffset,
		}
	}
	return resp
}

// handleStart creates and drives a new session from a previously
// transpiled contract (spec §4.7 `start`).
func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorEnvelope{Kind: "InvalidInput", Message: err.Error()}})
		return
	}
	ct, ok := s.lookupContract(req.ContractID, req.Revision)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errorEnvelope{Kind: "UnknownContract", Message: "no such contract/revision"}})
		return
	}
	tenant := req.Tenant
	if tenant == "" {
		tenant = claimsFrom(c).Tenant
	}
	if !req.InitialState.IsNull() {
		ct = overrideInitialState(ct, req.InitialState)
	}

	ctx, cancel := nowDeadline(req.TimeoutSecs)
	defer cancel()
	id, err := s.coord.Start(ctx, ct, tenant, req.GasBudget)
	if err != nil {
		writeStartError(c, err)
		return
	}
	view, err := s.coord.Status(id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, viewToResponse(view))
}

// overrideInitialState returns a shallow copy of ct with InitialState
// replaced, so a caller can parameterise a shared, already-transpiled
// Contract per session without re-running Transpile.
func overrideInitialState(ct *flow.Contract, init value.Value) *flow.Contract {
	cp := *ct
	cp.InitialState = init
	return &cp
}

func writeStartError(c *gin.Context, err error) {
	var se *orchestrator.SessionError
	if errors.As(err, &se) && se.Kind == orchestrator.KindBackpressureRejection {
		writeError(c, http.StatusTooManyRequests, err)
		return
	}
	writeError(c, http.StatusBadRequest, err)
}

// handleStatus reports a session's current status (spec §4.7 `status`).
func (s *Server) handleStatus(c *gin.Context) {
	view, err := s.coord.Status(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, viewToResponse(view))
}

type resumeRequest struct {
	Value value.Value `json:"value"`
}

// handleResume supplies a value for the currently-awaited interaction
// (spec §4.7 `resume`).
func (s *Server) handleResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorEnvelope{Kind: "InvalidInput", Message: err.Error()}})
		return
	}
	ctx, cancel := nowDeadline(0)
	defer cancel()
	view, err := s.coord.Resume(ctx, c.Param("id"), req.Value)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, viewToResponse(view))
}

// handleCancel requests cooperative cancellation (spec §4.7 `cancel`).
func (s *Server) handleCancel(c *gin.Context) {
	if err := s.coord.Cancel(c.Param("id")); err != nil {
		writeError(c, http.StatusNotFound, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type checkpointRequest struct {
	Label string `json:"label"`
}

type checkpointResponse struct {
	CheckpointID string `json:"checkpoint_id"`
}

// handleCheckpoint snapshots session state under a label (spec §4.7
// `checkpoint`).
func (s *Server) handleCheckpoint(c *gin.Context) {
	var req checkpointRequest
	_ = c.ShouldBindJSON(&req)
	cpID, err := s.coord.Checkpoint(c.Param("id"), req.Label)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, checkpointResponse{CheckpointID: cpID})
}

type restoreRequest struct {
	ContractID   string `json:"contract_id"`
	Revision     int    `json:"revision,omitempty"`
	CheckpointID string `json:"checkpoint_id"`
}

// handleRestore rehydrates a new session from a previously taken checkpoint
// (spec §4.7 `restore`). Restore always starts a fresh session id rather
// than mutating the original in place, matching Coordinator.Restore's
// signature.
func (s *Server) handleRestore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorEnvelope{Kind: "InvalidInput", Message: err.Error()}})
		return
	}
	ct, ok := s.lookupContract(req.ContractID, req.Revision)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errorEnvelope{Kind: "UnknownContract", Message: "no such contract/revision"}})
		return
	}
	tenant := claimsFrom(c).Tenant
	ctx, cancel := nowDeadline(0)
	defer cancel()
	id, err := s.coord.RestoreFromStore(ctx, ct, tenant, 0, req.CheckpointID)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	view, err := s.coord.Status(id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, viewToResponse(view))
}
