package pipeline

import "github.com/vkngwrapper/core/v3/common"

// Counts sizes a graphics pipeline's buffers and selects its draw call
type Counts struct {
	Vertex   int
	Instance int
	Index    int
	Indirect int
}

// DrawKind is the draw call a graphics pipeline issues
type DrawKind int32

var drawKindMapping = common.NewFlagStringMapping[DrawKind]()

func (k DrawKind) Register(str string) {
	drawKindMapping.Register(k, str)
}
func (k DrawKind) String() string {
	return drawKindMapping.FlagsToString(k)
}

const (
	DrawDirect DrawKind = 1 << iota
	DrawIndexed
	DrawIndirect
	DrawIndexedIndirect
)

func init() {
	DrawDirect.Register("DrawDirect")
	DrawIndexed.Register("DrawIndexed")
	DrawIndirect.Register("DrawIndirect")
	DrawIndexedIndirect.Register("DrawIndexedIndirect")
}

const (
	// IndexSize is the byte size of one index; indices are always 32 bit
	IndexSize = 4
	// DrawIndirectCommandSize is the stride of VkDrawIndirectCommand records
	DrawIndirectCommandSize = 16
	// DrawIndexedIndirectCommandSize is the stride of VkDrawIndexedIndirectCommand records
	DrawIndexedIndirectCommandSize = 20
)

// SelectDraw picks exactly one draw call from which counts are non-zero, preferring
// indexed-indirect, then indirect, then indexed, then a direct vertex draw
func SelectDraw(counts Counts) DrawKind {
	switch {
	case counts.Indirect > 0 && counts.Index > 0:
		return DrawIndexedIndirect
	case counts.Indirect > 0:
		return DrawIndirect
	case counts.Index > 0:
		return DrawIndexed
	}
	return DrawDirect
}

// IndirectStride is the size of one indirect command record for the selected draw
func (c Counts) IndirectStride() int {
	if c.Index > 0 {
		return DrawIndexedIndirectCommandSize
	}
	return DrawIndirectCommandSize
}

// Instances is the instance count passed to direct and indexed draws, never less than 1
func (c Counts) Instances() int {
	return max(1, c.Instance)
}
