package shield

import (
	"context"

	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/engine"
)

// Compiler builds a fresh engine from remote rule lists.
type Compiler interface {
	Compile(ctx context.Context, sources domain.RuleSourceSet) (*engine.Engine, error)
}

// EngineCache persists one engine between runs. Load reports false for a
// missing or unusable record; Save never fails the caller.
type EngineCache interface {
	Load() (*engine.Engine, bool)
	Save(e *engine.Engine)
}
