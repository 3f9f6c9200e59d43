package pipeline

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/binding"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
)

const (
	vertexBinding   = 0
	instanceBinding = 1
)

// GraphicsSpec declares a graphics pipeline. Shaders are pre-compiled SPIR-V. Topology, CullMode and
// FrontFace are parsed with ParseTopology, ParseCullMode and ParseFrontFace.
type GraphicsSpec struct {
	VertexShader []byte
	// FragmentShader may be empty for depth-only pipelines
	FragmentShader []byte

	VertexFormat   string
	InstanceFormat string
	Counts         Counts

	Topology         string
	CullMode         string
	FrontFace        string
	DepthTest        bool
	DepthWrite       bool
	Blending         bool
	PrimitiveRestart bool

	Bindings []binding.Spec
}

// Target is the render pass a graphics pipeline draws into
type Target struct {
	RenderPass       core1_0.RenderPass
	Samples          core1_0.SampleCountFlags
	ColorAttachments int
	Depth            bool
}

type graphicsState struct {
	vertexLayout   Layout
	instanceLayout Layout
	topology       core1_0.PrimitiveTopology
	cullMode       core1_0.CullModeFlags
	frontFace      core1_0.FrontFace
}

// Validate checks the spec against target without touching the driver
func (s GraphicsSpec) Validate(target Target) error {
	_, err := s.parse(target)
	return err
}

func (s GraphicsSpec) parse(target Target) (graphicsState, error) {
	var state graphicsState

	if err := ValidateShader("vertex_shader", s.VertexShader); err != nil {
		return state, err
	}
	if len(s.FragmentShader) > 0 {
		if err := ValidateShader("fragment_shader", s.FragmentShader); err != nil {
			return state, err
		}
	}

	counts := s.Counts
	if counts.Vertex < 0 || counts.Instance < 0 || counts.Index < 0 || counts.Indirect < 0 {
		return state, validation.New("pipeline", "counts", ErrInvalidValue, "%+v", counts)
	}

	var err error
	state.vertexLayout, err = ParseLayout(s.VertexFormat, vertexBinding, core1_0.VertexInputRateVertex, 0)
	if err != nil {
		return state, err
	}
	if !state.vertexLayout.Empty() && counts.Vertex == 0 {
		return state, validation.New("pipeline", "counts", validation.ErrZeroSize, "vertex format %q needs a vertex count", s.VertexFormat)
	}
	state.instanceLayout, err = ParseLayout(s.InstanceFormat, instanceBinding, core1_0.VertexInputRateInstance, state.vertexLayout.NextLocation(0))
	if err != nil {
		return state, err
	}
	if !state.instanceLayout.Empty() && counts.Instance == 0 {
		return state, validation.New("pipeline", "counts", validation.ErrZeroSize, "instance format %q needs an instance count", s.InstanceFormat)
	}

	state.topology, err = ParseTopology(s.Topology)
	if err != nil {
		return state, err
	}
	state.cullMode, err = ParseCullMode(s.CullMode)
	if err != nil {
		return state, err
	}
	state.frontFace, err = ParseFrontFace(s.FrontFace)
	if err != nil {
		return state, err
	}

	if (s.DepthTest || s.DepthWrite) && !target.Depth {
		return state, validation.New("pipeline", "depth_test", ErrMissingReference, "depth testing needs a depth attachment")
	}
	if len(s.FragmentShader) == 0 && target.ColorAttachments > 0 {
		return state, validation.New("pipeline", "fragment_shader", ErrMissingReference, "%d color attachments need a fragment shader", target.ColorAttachments)
	}

	return state, binding.Validate(s.Bindings)
}

// Graphics is a built graphics pipeline together with the descriptor set and buffers it owns
type Graphics struct {
	factory *resource.Factory
	spec    GraphicsSpec
	state   graphicsState
	draw    DrawKind

	vertexBuffer   *resource.Buffer
	instanceBuffer *resource.Buffer
	indexBuffer    *resource.Buffer
	indirectBuffer *resource.Buffer

	set      *binding.Set
	pipeline core1_0.Pipeline
	built    bool
	prepared bool
}

// BuildGraphics validates spec, reserves its buffers in a and creates the descriptor set and
// pipeline. Descriptor writes wait for Prepare, once a is bound.
func BuildGraphics(factory *resource.Factory, a *arena.Arena, spec GraphicsSpec, target Target) (*Graphics, error) {
	state, err := spec.parse(target)
	if err != nil {
		return nil, err
	}

	g := &Graphics{
		factory: factory,
		spec:    spec,
		state:   state,
		draw:    SelectDraw(spec.Counts),
	}

	err = g.build(a, target)
	if err != nil {
		g.Destroy()
		return nil, err
	}

	factory.Logger().Debug("Pipeline::BuildGraphics",
		slog.String("draw", g.draw.String()),
		slog.Int("vertexStride", state.vertexLayout.Stride),
		slog.Int("instanceStride", state.instanceLayout.Stride),
		slog.Int("bindings", len(spec.Bindings)))

	return g, nil
}

func (g *Graphics) createBuffer(a *arena.Arena, size int, usage core1_0.BufferUsageFlags) (*resource.Buffer, error) {
	if size == 0 {
		return nil, nil
	}
	return g.factory.CreateBuffer(a, size, usage|core1_0.BufferUsageTransferDst)
}

func (g *Graphics) build(a *arena.Arena, target Target) error {
	counts := g.spec.Counts

	var err error
	g.vertexBuffer, err = g.createBuffer(a, counts.Vertex*g.state.vertexLayout.Stride, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return errors.Wrap(err, "failed to create vertex buffer")
	}
	g.instanceBuffer, err = g.createBuffer(a, counts.Instance*g.state.instanceLayout.Stride, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return errors.Wrap(err, "failed to create instance buffer")
	}
	g.indexBuffer, err = g.createBuffer(a, counts.Index*IndexSize, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		return errors.Wrap(err, "failed to create index buffer")
	}
	g.indirectBuffer, err = g.createBuffer(a, counts.Indirect*counts.IndirectStride(), core1_0.BufferUsageIndirectBuffer)
	if err != nil {
		return errors.Wrap(err, "failed to create indirect buffer")
	}

	resolved := make([]*binding.Resolved, 0, len(g.spec.Bindings))
	for _, spec := range g.spec.Bindings {
		r, err := binding.Resolve(spec, g.factory, a)
		if err != nil {
			for _, done := range resolved {
				done.Destroy()
			}
			return err
		}
		resolved = append(resolved, r)
	}

	g.set, err = binding.NewSet(g.factory.Driver(), resolved)
	if err != nil {
		for _, done := range resolved {
			done.Destroy()
		}
		return err
	}

	return g.createPipeline(target)
}

func (g *Graphics) createPipeline(target Target) error {
	driver := g.factory.Driver()

	vertexModule, err := createShaderModule(driver, g.spec.VertexShader)
	if err != nil {
		return err
	}
	defer driver.DestroyShaderModule(vertexModule)

	stages := []core1_0.PipelineShaderStageCreateInfo{
		{
			Stage:  core1_0.StageVertex,
			Module: vertexModule,
			Name:   "main",
		},
	}

	if len(g.spec.FragmentShader) > 0 {
		fragmentModule, err := createShaderModule(driver, g.spec.FragmentShader)
		if err != nil {
			return err
		}
		defer driver.DestroyShaderModule(fragmentModule)

		stages = append(stages, core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageFragment,
			Module: fragmentModule,
			Name:   "main",
		})
	}

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{}
	for _, layout := range []Layout{g.state.vertexLayout, g.state.instanceLayout} {
		if layout.Empty() {
			continue
		}
		vertexInput.VertexBindingDescriptions = append(vertexInput.VertexBindingDescriptions, layout.BindingDescription())
		vertexInput.VertexAttributeDescriptions = append(vertexInput.VertexAttributeDescriptions, layout.AttributeDescriptions()...)
	}

	samples := target.Samples
	if samples == 0 {
		samples = core1_0.Samples1
	}

	var depthStencil *core1_0.PipelineDepthStencilStateCreateInfo
	if target.Depth {
		depthStencil = &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:  g.spec.DepthTest,
			DepthWriteEnable: g.spec.DepthWrite,
			DepthCompareOp:   core1_0.CompareOpLess,
		}
	}

	info := core1_0.GraphicsPipelineCreateInfo{
		Stages:           stages,
		VertexInputState: vertexInput,
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology:               g.state.topology,
			PrimitiveRestartEnable: g.spec.PrimitiveRestart,
		},
		// Viewport and scissor are set while recording, only their counts are fixed here
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{{}},
			Scissors:  []core1_0.Rect2D{{}},
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			PolygonMode: core1_0.PolygonModeFill,
			CullMode:    g.state.cullMode,
			FrontFace:   g.state.frontFace,
			LineWidth:   1.0,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			RasterizationSamples: samples,
			MinSampleShading:     1.0,
		},
		DepthStencilState: depthStencil,
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			LogicOp:     core1_0.LogicOpCopy,
			Attachments: blendAttachments(target.ColorAttachments, g.spec.Blending),
		},
		DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
			DynamicStates: []core1_0.DynamicState{
				core1_0.DynamicStateViewport,
				core1_0.DynamicStateScissor,
			},
		},
		Layout:            g.set.PipelineLayout(),
		RenderPass:        target.RenderPass,
		Subpass:           0,
		BasePipelineIndex: -1,
	}

	pipeline, res, err := driver.CreateGraphicsPipeline(info)
	if err != nil {
		return errors.Wrapf(err, "failed to create graphics pipeline (%s)", res)
	}
	g.pipeline = pipeline
	g.built = true
	return nil
}

func blendAttachments(count int, blending bool) []core1_0.PipelineColorBlendAttachmentState {
	attachments := make([]core1_0.PipelineColorBlendAttachmentState, count)
	for i := range attachments {
		attachments[i] = core1_0.PipelineColorBlendAttachmentState{
			ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
		}
		if !blending {
			continue
		}

		// Straight alpha over the existing contents
		attachments[i].BlendEnabled = true
		attachments[i].SrcColorBlendFactor = core1_0.BlendFactorSrcAlpha
		attachments[i].DstColorBlendFactor = core1_0.BlendFactorOneMinusSrcAlpha
		attachments[i].ColorBlendOp = core1_0.BlendOpAdd
		attachments[i].SrcAlphaBlendFactor = core1_0.BlendFactorOne
		attachments[i].DstAlphaBlendFactor = core1_0.BlendFactorOneMinusSrcAlpha
		attachments[i].AlphaBlendOp = core1_0.BlendOpAdd
	}
	return attachments
}

func (g *Graphics) Pipeline() core1_0.Pipeline {
	return g.pipeline
}

func (g *Graphics) Set() *binding.Set {
	return g.set
}

func (g *Graphics) Counts() Counts {
	return g.spec.Counts
}

// Draw is the draw call Record issues
func (g *Graphics) Draw() DrawKind {
	return g.draw
}

func (g *Graphics) VertexLayout() Layout {
	return g.state.vertexLayout
}

func (g *Graphics) InstanceLayout() Layout {
	return g.state.instanceLayout
}

// VertexBuffer is nil when the pipeline has no vertex format or no vertices
func (g *Graphics) VertexBuffer() *resource.Buffer {
	return g.vertexBuffer
}

func (g *Graphics) InstanceBuffer() *resource.Buffer {
	return g.instanceBuffer
}

func (g *Graphics) IndexBuffer() *resource.Buffer {
	return g.indexBuffer
}

func (g *Graphics) IndirectBuffer() *resource.Buffer {
	return g.indirectBuffer
}

func (g *Graphics) ownedBuffers() []*resource.Buffer {
	var buffers []*resource.Buffer
	for _, buffer := range []*resource.Buffer{g.vertexBuffer, g.instanceBuffer, g.indexBuffer, g.indirectBuffer} {
		if buffer != nil {
			buffers = append(buffers, buffer)
		}
	}
	return buffers
}

// Prepare creates the descriptor objects and writes the descriptor set. Every buffer and image the
// pipeline uses must be bound by now.
func (g *Graphics) Prepare() error {
	if g.prepared {
		return nil
	}

	for _, buffer := range g.ownedBuffers() {
		if !buffer.Bound() {
			return errors.Newf("buffer %d has not been bound", buffer.ID())
		}
	}

	err := binding.CreateDescriptorObjects(g.set.Bindings()...)
	if err != nil {
		return err
	}
	err = g.set.Write()
	if err != nil {
		return err
	}

	g.prepared = true
	return nil
}

func (g *Graphics) bindVertexBuffers(commandBuffer core1_0.CommandBuffer) {
	var buffers []core1_0.Buffer
	var offsets []int
	firstBinding := vertexBinding

	if g.vertexBuffer != nil {
		buffers = append(buffers, g.vertexBuffer.VulkanBuffer())
		offsets = append(offsets, 0)
	} else {
		firstBinding = instanceBinding
	}
	if g.instanceBuffer != nil {
		buffers = append(buffers, g.instanceBuffer.VulkanBuffer())
		offsets = append(offsets, 0)
	}

	if len(buffers) > 0 {
		g.factory.Driver().CmdBindVertexBuffers(commandBuffer, firstBinding, buffers, offsets)
	}
}

// Record binds the pipeline, its buffers and its descriptor set and issues its single draw. It must
// be called inside a render pass with the viewport and scissor already set.
func (g *Graphics) Record(commandBuffer core1_0.CommandBuffer) error {
	if !g.prepared {
		return errors.New("graphics pipeline has not been prepared")
	}

	driver := g.factory.Driver()
	counts := g.spec.Counts

	driver.CmdBindPipeline(commandBuffer, core1_0.PipelineBindPointGraphics, g.pipeline)
	g.bindVertexBuffers(commandBuffer)
	g.set.Bind(commandBuffer, core1_0.PipelineBindPointGraphics)
	if g.indexBuffer != nil {
		driver.CmdBindIndexBuffer(commandBuffer, g.indexBuffer.VulkanBuffer(), 0, core1_0.IndexTypeUInt32)
	}

	switch g.draw {
	case DrawIndexedIndirect:
		driver.CmdDrawIndexedIndirect(commandBuffer, g.indirectBuffer.VulkanBuffer(), 0, counts.Indirect, DrawIndexedIndirectCommandSize)
	case DrawIndirect:
		driver.CmdDrawIndirect(commandBuffer, g.indirectBuffer.VulkanBuffer(), 0, counts.Indirect, DrawIndirectCommandSize)
	case DrawIndexed:
		driver.CmdDrawIndexed(commandBuffer, counts.Index, counts.Instances())
	default:
		driver.CmdDraw(commandBuffer, counts.Vertex, counts.Instances())
	}

	return nil
}

// Destroy releases the pipeline, its descriptor set and the buffers it created
func (g *Graphics) Destroy() {
	driver := g.factory.Driver()
	if g.built {
		driver.DestroyPipeline(g.pipeline)
		g.built = false
	}
	if g.set != nil {
		g.set.Destroy()
		g.set = nil
	}
	for _, buffer := range g.ownedBuffers() {
		buffer.Destroy()
	}
	g.vertexBuffer, g.instanceBuffer, g.indexBuffer, g.indirectBuffer = nil, nil, nil, nil
	g.prepared = false
}
