package storage

import "time"

// LoopFrame mirrors orchestrator's unexported loopFrame so a Session's
// ForEach position can round-trip through storage without this package
// importing orchestrator (which itself imports storage to persist and
// restore sessions — the dependency only runs one way).
type LoopFrame struct {
	ForEachBlockID string
	Index          int
}

// SessionRecord is the durable shape of an orchestrator.Session: enough to
// reconstruct a Session and resume dispatch from exactly where it left off.
// The Value fields hold CBOR-encoded value.Value payloads (via
// value.Value's own MarshalCBOR/UnmarshalCBOR), keeping this package free
// of a dependency on the value package's richer API.
type SessionRecord struct {
	ID             string
	Tenant         string
	ContractRef    string
	CurrentBlockID string
	LoopStack      []LoopFrame
	GasBudget      uint64
	GasRemaining   uint64
	Status         uint8
	StateSnapshot  []byte // CBOR-encoded value.Value
	CreatedAt      time.Time
	LastEventAt    time.Time
}

// CheckpointRecord is the durable shape of an orchestrator.Checkpoint.
type CheckpointRecord struct {
	ID        string
	SessionID string
	Label     string
	BlockID   string
	LoopStack []LoopFrame
	Snapshot  []byte // CBOR-encoded value.Value
	CreatedAt time.Time
}

// ContractRecord stores a transpiled flow.Contract's source definition
// only, not its compiled form; on restart the definition is transpiled
// again, which re-runs validation.
type ContractRecord struct {
	ID         string
	Version    int
	Definition []byte // CBOR-encoded flow.FlowDefinition
}

// PolicyBundleRecord is the durable shape of a policygate.PolicyBundle.
type PolicyBundleRecord struct {
	ID    string
	Stage string
	Data  []byte // CBOR-encoded policygate.PolicyBundle
}
