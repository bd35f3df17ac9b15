package flow

import (
	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/value"
)

// FlowDefinition is the declarative, user-authored flow document (spec §6):
// `{ name, start_block_id, initial_state?, state_schema?, blocks[],
// permissions? }`.
type FlowDefinition struct {
	Name         string      `json:"name"`
	StartBlockID string      `json:"start_block_id"`
	InitialState value.Value `json:"initial_state,omitempty"`
	StateSchema  string      `json:"state_schema,omitempty"` // CUE source; empty means unschemed
	Blocks       []RawBlock  `json:"blocks"`
	Permissions  []string    `json:"permissions,omitempty"`
}

// Contract is the transpiled, immutable execution artefact (spec §3):
// `{ id, version, initial_state, state_schema?, blocks[], start_block_id,
// permissions }`.
type Contract struct {
	ID           string
	Version      uint16
	InitialState value.Value
	StateSchema  string
	Blocks       map[string]*Block
	StartBlockID string
	Permissions  bytecode.PermissionSet
}
