// Package renderset builds render sets: a render pass with its attachments, one framebuffer per array
// layer, and the graphics pipelines that draw into it
package renderset

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/compute"
	"github.com/vkngwrapper/kiln/pipeline"
	"github.com/vkngwrapper/kiln/resource"
)

type state int

const (
	stateConstructing state = iota
	stateReady
	stateExecuting
)

// RenderSet owns a render pass, its attachments and framebuffers, and the graphics pipelines drawn
// inside it. Attached compute sets are recorded after the render pass but are not owned.
type RenderSet struct {
	factory *resource.Factory
	options Options
	state   state

	colors   []*resource.Image
	resolves []*resource.Image
	depth    *resource.Image

	renderPass      core1_0.RenderPass
	hasRenderPass   bool
	finalLayouts    []core1_0.ImageLayout
	framebuffers    []core1_0.Framebuffer
	clearValues     []core1_0.ClearValue
	pipelines       []*pipeline.Graphics
	computeSets     []*compute.Set
	outputsAreColor bool
}

// New validates options, reserves every attachment in a, and creates the render pass and pipelines.
// Framebuffers and descriptor writes wait for Prepare, once a is bound.
func New(factory *resource.Factory, a *arena.Arena, options Options) (*RenderSet, error) {
	options.applyDefaults()
	if err := options.Validate(); err != nil {
		return nil, err
	}

	r := &RenderSet{
		factory:         factory,
		options:         options,
		computeSets:     options.Compute,
		outputsAreColor: options.Samples == core1_0.Samples1,
	}

	err := r.build(a)
	if err != nil {
		r.Destroy()
		return nil, err
	}

	factory.Logger().Debug("RenderSet::New",
		slog.Int("colors", len(options.ColorFormats)),
		slog.Int("attachments", len(r.Attachments())),
		slog.Int("layers", options.Layers),
		slog.Int("pipelines", len(r.pipelines)))

	return r, nil
}

func (r *RenderSet) build(a *arena.Arena) error {
	options := r.options

	for i, format := range options.ColorFormats {
		if r.outputsAreColor {
			output, err := r.factory.CreateImage(a, options.outputOptions(format))
			if err != nil {
				return errors.Wrapf(err, "failed to create color attachment %d", i)
			}
			r.colors = append(r.colors, output)
			continue
		}

		color, err := r.factory.CreateImage(a, options.multisampleOptions(format))
		if err != nil {
			return errors.Wrapf(err, "failed to create multisampled color attachment %d", i)
		}
		r.colors = append(r.colors, color)

		resolve, err := r.factory.CreateImage(a, options.outputOptions(format))
		if err != nil {
			return errors.Wrapf(err, "failed to create resolve attachment %d", i)
		}
		r.resolves = append(r.resolves, resolve)
	}

	if options.hasDepth() {
		depth, err := r.factory.CreateImage(a, options.depthOptions())
		if err != nil {
			return errors.Wrap(err, "failed to create depth attachment")
		}
		r.depth = depth
	}

	err := r.createRenderPass()
	if err != nil {
		return err
	}

	target := options.target(r.renderPass)
	for i, spec := range options.Pipelines {
		graphics, err := pipeline.BuildGraphics(r.factory, a, spec, target)
		if err != nil {
			return errors.Wrapf(err, "failed to build pipeline %d", i)
		}
		r.pipelines = append(r.pipelines, graphics)
	}

	return nil
}

// Attachments lists the attachment images in render pass order: colors, then resolves, then depth
func (r *RenderSet) Attachments() []*resource.Image {
	attachments := make([]*resource.Image, 0, len(r.colors)+len(r.resolves)+1)
	attachments = append(attachments, r.colors...)
	attachments = append(attachments, r.resolves...)
	if r.depth != nil {
		attachments = append(attachments, r.depth)
	}
	return attachments
}

// Outputs are the single-sampled images the render set produces: the color attachments, or the
// resolve attachments when multisampling
func (r *RenderSet) Outputs() []*resource.Image {
	if r.outputsAreColor {
		return r.colors
	}
	return r.resolves
}

// Depth is nil when the render set has no depth attachment
func (r *RenderSet) Depth() *resource.Image {
	return r.depth
}

func (r *RenderSet) RenderPass() core1_0.RenderPass {
	return r.renderPass
}

func (r *RenderSet) Framebuffers() []core1_0.Framebuffer {
	return r.framebuffers
}

func (r *RenderSet) ClearValues() []core1_0.ClearValue {
	return r.clearValues
}

func (r *RenderSet) Pipelines() []*pipeline.Graphics {
	return r.pipelines
}

func (r *RenderSet) ComputeSets() []*compute.Set {
	return r.computeSets
}

// Ready reports whether Prepare has completed and the render set can be recorded
func (r *RenderSet) Ready() bool {
	return r.state == stateReady
}

// Prepare creates one framebuffer per array layer, prepares every pipeline and attached compute set,
// and moves the render set to ready. Every attachment must be bound by now. A failed Prepare may be
// retried; framebuffers that were already created are kept.
func (r *RenderSet) Prepare() error {
	if r.state != stateConstructing {
		return nil
	}

	if len(r.framebuffers) == 0 {
		if err := r.createFramebuffers(); err != nil {
			return err
		}
	}

	for _, graphics := range r.pipelines {
		if err := graphics.Prepare(); err != nil {
			return err
		}
	}
	for _, set := range r.computeSets {
		if err := set.Prepare(); err != nil {
			return err
		}
	}

	r.state = stateReady
	return nil
}

// createFramebuffers builds every layer's framebuffer or none of them
func (r *RenderSet) createFramebuffers() error {
	driver := r.factory.Driver()
	attachments := r.Attachments()
	framebuffers := make([]core1_0.Framebuffer, 0, r.options.Layers)

	destroyPartial := func() {
		for _, framebuffer := range framebuffers {
			driver.DestroyFramebuffer(framebuffer)
		}
	}

	for layer := 0; layer < r.options.Layers; layer++ {
		views := make([]core1_0.ImageView, 0, len(attachments))
		for _, image := range attachments {
			view, err := image.LayerView(layer)
			if err != nil {
				destroyPartial()
				return err
			}
			views = append(views, view)
		}

		framebuffer, res, err := driver.CreateFramebuffer(core1_0.FramebufferCreateInfo{
			RenderPass:  r.renderPass,
			Attachments: views,
			Width:       r.options.Extent.Width,
			Height:      r.options.Extent.Height,
			Layers:      1,
		})
		if err != nil {
			destroyPartial()
			return errors.Wrapf(err, "failed to create framebuffer for layer %d (%s)", layer, res)
		}
		framebuffers = append(framebuffers, framebuffer)
	}

	r.framebuffers = framebuffers
	return nil
}

// Record draws every layer with every pipeline, generates the outputs' mip chains, then records the
// attached compute sets
func (r *RenderSet) Record(commandBuffer core1_0.CommandBuffer) error {
	switch r.state {
	case stateConstructing:
		return errors.New("render set has not been prepared")
	case stateExecuting:
		return errors.New("render set is already being recorded")
	}

	r.state = stateExecuting
	defer func() { r.state = stateReady }()

	driver := r.factory.Driver()
	extent := r.options.Extent
	renderArea := core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: extent,
	}

	for layer, framebuffer := range r.framebuffers {
		err := driver.CmdBeginRenderPass(commandBuffer, core1_0.RenderPassBeginInfo{
			RenderPass:  r.renderPass,
			Framebuffer: framebuffer,
			RenderArea:  renderArea,
			ClearValues: r.clearValues,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to begin render pass for layer %d", layer)
		}

		driver.CmdSetViewport(commandBuffer, core1_0.Viewport{
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MinDepth: 0,
			MaxDepth: 1,
		})
		driver.CmdSetScissor(commandBuffer, renderArea)

		for _, graphics := range r.pipelines {
			if err := graphics.Record(commandBuffer); err != nil {
				driver.CmdEndRenderPass(commandBuffer)
				return err
			}
		}

		driver.CmdEndRenderPass(commandBuffer)
	}

	for i, image := range r.Attachments() {
		image.AssumeLayout(r.finalLayouts[i])
	}

	for _, output := range r.Outputs() {
		if output.MipLevels() <= 1 {
			continue
		}
		if err := resource.RecordMipChain(driver, commandBuffer, output); err != nil {
			return err
		}
	}

	for _, set := range r.computeSets {
		if err := set.Record(commandBuffer); err != nil {
			return err
		}
	}

	r.factory.Logger().Debug("RenderSet::Record",
		slog.Int("layers", len(r.framebuffers)),
		slog.Int("pipelines", len(r.pipelines)),
		slog.Int("computeSets", len(r.computeSets)))
	return nil
}

// Destroy releases the pipelines, framebuffers, render pass and attachments. Attached compute sets
// are left to their owner.
func (r *RenderSet) Destroy() {
	driver := r.factory.Driver()

	for _, graphics := range r.pipelines {
		graphics.Destroy()
	}
	r.pipelines = nil

	for _, framebuffer := range r.framebuffers {
		driver.DestroyFramebuffer(framebuffer)
	}
	r.framebuffers = nil

	if r.hasRenderPass {
		driver.DestroyRenderPass(r.renderPass)
		r.hasRenderPass = false
	}

	for _, image := range r.Attachments() {
		image.Destroy()
	}
	r.colors, r.resolves, r.depth = nil, nil, nil
	r.state = stateConstructing
}
