package arena

import "github.com/vkngwrapper/core/v3/common"

// CreateFlags controls how an Arena picks its memory and guards its state
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// ArenaCreateExternallySynchronized indicates that the caller serializes every call against the
	// Arena. The internal mutex is skipped.
	ArenaCreateExternallySynchronized CreateFlags = 1 << iota
	// ArenaCreateHostVisible requires a host-visible memory type for the arena's block. The block is
	// mapped once at Finalize and stays mapped until Release.
	ArenaCreateHostVisible
	// ArenaCreateHostCoherent additionally requires the memory type to be host-coherent, so Flush and
	// Invalidate never reach the driver. It has no effect without ArenaCreateHostVisible.
	ArenaCreateHostCoherent
)

func init() {
	ArenaCreateExternallySynchronized.Register("ArenaCreateExternallySynchronized")
	ArenaCreateHostVisible.Register("ArenaCreateHostVisible")
	ArenaCreateHostCoherent.Register("ArenaCreateHostCoherent")
}
