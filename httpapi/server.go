// Package httpapi implements the Coordinator's transport-agnostic control
// surface and observational event bus over HTTP (spec §6). Routing and the
// request/response shapes follow the teacher's webserver idiom — a single
// gin.Engine, one handler method per route, JSON in and out — generalised
// from stake-plus-govcomms's vote/message endpoints
// (_examples/stake-plus-govcomms/src/api/webserver) to the Coordinator's
// start/resume/status/cancel/checkpoint/restore operations.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/config"
	"github.com/thinksystem/sleet/flow"
	"github.com/thinksystem/sleet/orchestrator"
	"github.com/thinksystem/sleet/storage"
)

// Server wires an orchestrator.Coordinator onto an HTTP control surface
// plus a websocket event stream, per spec §6.
type Server struct {
	cfg    *config.Config
	coord  *orchestrator.Coordinator
	ffi    *bytecode.Registry
	store  *storage.Store
	router *gin.Engine

	mu        sync.RWMutex
	contracts map[contractKey]*flow.Contract
	revisions map[string]int // highest known revision per contract id
}

// contractKey addresses a stored Contract by (id, revision). Revision is an
// httpapi-assigned monotonically increasing counter per contract id,
// distinct from flow.Contract.Version, which is the fixed bytecode format
// version (spec §6: "Contracts are stored by id+version" — here "version"
// is this per-id revision counter, since the bytecode format version never
// changes across re-transpiles of the same flow).
type contractKey struct {
	id       string
	revision int
}

// New builds a Server. store may be nil (no durable contract/session
// recovery across restarts). ffi is the foreign-function registry flows are
// transpiled and executed against.
func New(cfg *config.Config, coord *orchestrator.Coordinator, ffi *bytecode.Registry, store *storage.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		coord:     coord,
		ffi:       ffi,
		store:     store,
		contracts: make(map[contractKey]*flow.Contract),
		revisions: make(map[string]int),
	}
	s.router = s.newRouter()
	return s
}

// Router exposes the underlying gin.Engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// ListenAndServe starts the HTTP server on cfg.Server.Addr.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.cfg.Server.Addr, s.router)
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/v1")
	v1.Use(s.authMiddleware())
	{
		v1.POST("/flows", s.handleTranspile)
		v1.POST("/sessions", s.handleStart)
		v1.GET("/sessions/:id", s.handleStatus)
		v1.POST("/sessions/:id/resume", s.handleResume)
		v1.POST("/sessions/:id/cancel", s.handleCancel)
		v1.POST("/sessions/:id/checkpoint", s.handleCheckpoint)
		v1.POST("/sessions/:id/restore", s.handleRestore)
		v1.GET("/events", s.handleEvents)
	}
	return r
}

// errorEnvelope is the external-facing error shape of spec §6.
type errorEnvelope struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	Detail            string `json:"detail,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	BlockID           string `json:"block_id,omitempty"`
	InstructionOffset int    `json:"instruction_offset,omitempty"`
}

func writeError(c *gin.Context, status int, err error) {
	env := errorEnvelope{Kind: "Error", Message: err.Error()}
	if se, ok := err.(*orchestrator.SessionError); ok {
		env.Kind = string(se.Kind)
		env.Message = se.Message
		env.BlockID = se.BlockID
		env.InstructionOffset = se.InstructionOffset
	}
	c.JSON(status, gin.H{"error": env})
}

// rememberContract assigns the next revision for ct.ID and stores ct under
// it, returning the assigned revision.
func (s *Server) rememberContract(ct *flow.Contract) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.revisions[ct.ID] + 1
	s.revisions[ct.ID] = rev
	s.contracts[contractKey{ct.ID, rev}] = ct
	return rev
}

func (s *Server) lookupContract(id string, revision int) (*flow.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if revision == 0 {
		revision = s.revisions[id]
	}
	ct, ok := s.contracts[contractKey{id, revision}]
	return ct, ok
}

// LoadPersistedContracts recompiles every contract previously saved via
// handleTranspile (storage.ContractRecord holds the source FlowDefinition,
// not the compiled Contract, so recovery re-runs Transpile rather than
// deserialising compiled bytecode directly) so RestoreFromStore has a
// Contract to dispatch against after a process restart. Call once at
// startup after Coordinator.WithStore.
func (s *Server) LoadPersistedContracts(ctx context.Context, ids []string) error {
	if s.store == nil {
		return nil
	}
	for _, id := range ids {
		rec, err := s.store.LatestContractVersion(id)
		if err != nil {
			return fmt.Errorf("httpapi: loading contract %s: %w", id, err)
		}
		var def flow.FlowDefinition
		if err := cbor.Unmarshal(rec.Definition, &def); err != nil {
			return fmt.Errorf("httpapi: decoding contract %s: %w", id, err)
		}
		ct, err := flow.Transpile(&def, s.ffi)
		if err != nil {
			return fmt.Errorf("httpapi: retranspiling contract %s: %w", id, err)
		}
		s.mu.Lock()
		if rec.Version > s.revisions[id] {
			s.revisions[id] = rec.Version
		}
		s.contracts[contractKey{id, rec.Version}] = ct
		s.mu.Unlock()
	}
	return nil
}

func nowDeadline(seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(seconds)*time.Second)
}
