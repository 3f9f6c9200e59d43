package kiln

import (
	"github.com/vkngwrapper/core/v3/common"
)

// CreateFlags indicate specific engine behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()
var createFlagsByName = map[string]CreateFlags{}

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
	createFlagsByName[str] = f
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// EngineCreateExternallySynchronized ensures that the engine and every arena, factory and
	// scheduler it creates skip their internal mutexes. The consumer must guarantee they are used
	// from one goroutine at a time.
	EngineCreateExternallySynchronized CreateFlags = 1 << iota
	// EngineCreateHostCoherentStaging requires host-coherent memory for arenas created with
	// HostVisible set, instead of only preferring it
	EngineCreateHostCoherentStaging
)

func init() {
	EngineCreateExternallySynchronized.Register("EngineCreateExternallySynchronized")
	EngineCreateHostCoherentStaging.Register("EngineCreateHostCoherentStaging")
}
