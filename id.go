package orchestration

import "github.com/bcorn-cely/Agent-Orchestration/id"

// ID is the primary identifier type for all orchestrator entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
