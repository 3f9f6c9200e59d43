package resource

import "github.com/vkngwrapper/core/v3/common"

// ID identifies a buffer, image or staging buffer within the factory that created it
type ID int

// Resource is anything the factory creates and tracks in its registry
type Resource interface {
	ID() ID
	// Size is the number of bytes the resource occupies when staged
	Size() int
	Destroy()
}

// AccessMode determines the layout an image rests in between transfers, along with the usage flags
// it is created with
type AccessMode int32

const (
	// AccessProtected images are render targets that are never sampled
	AccessProtected AccessMode = iota
	// AccessTexture images are sampled by shaders
	AccessTexture
	// AccessOutput images are read back to the host or presented
	AccessOutput
	// AccessStorage images are written by compute shaders
	AccessStorage
)

var accessModeMapping = map[AccessMode]string{
	AccessProtected: "AccessProtected",
	AccessTexture:   "AccessTexture",
	AccessOutput:    "AccessOutput",
	AccessStorage:   "AccessStorage",
}

func (m AccessMode) String() string {
	return accessModeMapping[m]
}

// Direction tags the transfers a staging buffer performs for an attached resource
type Direction int32

var directionMapping = common.NewFlagStringMapping[Direction]()

func (d Direction) Register(str string) {
	directionMapping.Register(d, str)
}
func (d Direction) String() string {
	return directionMapping.FlagsToString(d)
}

const (
	// DirectionInput copies the staged bytes to the device before a task's items run
	DirectionInput Direction = 1 << iota
	// DirectionOutput copies the resource back into the staging buffer after a task's items run
	DirectionOutput

	DirectionBoth = DirectionInput | DirectionOutput
)

func init() {
	DirectionInput.Register("DirectionInput")
	DirectionOutput.Register("DirectionOutput")
}
