// Package present blits a task's result image into the swapchains of attached surfaces and presents
// them. A surface whose swapchain goes out of date is dropped rather than recreated. Surfaces dropped
// by a present are retired and torn down by Reap once the submission that used them has finished.
package present

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
)

// Surface is a presentation surface along with the swapchain and semaphores built for it
type Surface struct {
	surface   khr_surface.Surface
	swapchain khr_swapchain.Swapchain
	images    []core1_0.Image
	format    khr_surface.SurfaceFormat
	extent    core1_0.Extent2D

	// acquired is signaled when the acquired image can be written, rendered when the blit is done
	acquired core1_0.Semaphore
	rendered core1_0.Semaphore

	hasSwapchain bool
	semaphores   int
}

func (s *Surface) Format() khr_surface.SurfaceFormat {
	return s.format
}

func (s *Surface) Extent() core1_0.Extent2D {
	return s.extent
}

func (s *Surface) ImageCount() int {
	return len(s.images)
}

// Presenter owns every attached surface. It is driven by the scheduler and is not safe for
// concurrent use.
type Presenter struct {
	driver   vulkan.Driver
	logger   *slog.Logger
	surfaces []*Surface
	retired  []*Surface
}

func New(logger *slog.Logger, driver vulkan.Driver) *Presenter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Presenter{
		driver: driver,
		logger: logger,
	}
}

// Len is the number of surfaces currently attached
func (p *Presenter) Len() int {
	return len(p.surfaces)
}

func (p *Presenter) Surfaces() []*Surface {
	return p.surfaces
}

// Retired is the number of dropped surfaces waiting for Reap
func (p *Presenter) Retired() int {
	return len(p.retired)
}

// Attach takes ownership of surface and builds a swapchain for it. The surface format is the first
// entry of the source format's compatibility list the surface offers. When the surface doesn't
// dictate its extent, extent is clamped to the surface's limits.
func (p *Presenter) Attach(surface khr_surface.Surface, sourceFormat core1_0.Format, extent core1_0.Extent2D) (*Surface, error) {
	if len(compatibleFormats[sourceFormat]) == 0 {
		return nil, validation.New("present", "source_format", validation.ErrUnknownFormat, "%s can't be presented", sourceFormat)
	}

	formats, res, err := p.driver.SurfaceFormats(surface)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read surface formats (%s)", res)
	}
	format, ok := chooseSurfaceFormat(sourceFormat, formats)
	if !ok {
		return nil, validation.New("present", "source_format", validation.ErrUnknownFormat, "the surface offers no format compatible with %s", sourceFormat)
	}

	capabilities, res, err := p.driver.SurfaceCapabilities(surface)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read surface capabilities (%s)", res)
	}

	s := &Surface{
		surface: surface,
		format:  format,
		extent:  swapchainExtent(capabilities, extent),
	}

	err = p.build(s, capabilities)
	if err != nil {
		p.teardown(s)
		return nil, err
	}

	p.surfaces = append(p.surfaces, s)
	p.logger.Debug("Presenter::Attach",
		slog.String("format", format.Format.String()),
		slog.Int("width", s.extent.Width),
		slog.Int("height", s.extent.Height),
		slog.Int("images", len(s.images)))

	return s, nil
}

func swapchainExtent(capabilities *khr_surface.SurfaceCapabilities, requested core1_0.Extent2D) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	return core1_0.Extent2D{
		Width:  min(max(requested.Width, capabilities.MinImageExtent.Width), capabilities.MaxImageExtent.Width),
		Height: min(max(requested.Height, capabilities.MinImageExtent.Height), capabilities.MaxImageExtent.Height),
	}
}

func (p *Presenter) build(s *Surface, capabilities *khr_surface.SurfaceCapabilities) error {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}

	swapchain, res, err := p.driver.CreateSwapchain(khr_swapchain.SwapchainCreateInfo{
		Surface:          s.surface,
		MinImageCount:    imageCount,
		ImageFormat:      s.format.Format,
		ImageColorSpace:  s.format.ColorSpace,
		ImageExtent:      s.extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageTransferDst,
		ImageSharingMode: core1_0.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   khr_surface.CompositeAlphaOpaque,
		PresentMode:      khr_surface.PresentModeFIFO,
		Clipped:          true,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create swapchain (%s)", res)
	}
	s.swapchain = swapchain
	s.hasSwapchain = true

	s.images, res, err = p.driver.GetSwapchainImages(swapchain)
	if err != nil {
		return errors.Wrapf(err, "failed to read swapchain images (%s)", res)
	}

	s.acquired, res, err = p.driver.CreateSemaphore()
	if err != nil {
		return errors.Wrapf(err, "failed to create acquire semaphore (%s)", res)
	}
	s.semaphores++

	s.rendered, res, err = p.driver.CreateSemaphore()
	if err != nil {
		return errors.Wrapf(err, "failed to create present semaphore (%s)", res)
	}
	s.semaphores++

	return nil
}

// teardown destroys whatever part of the surface was built, then the surface itself
func (p *Presenter) teardown(s *Surface) {
	if s.semaphores > 1 {
		p.driver.DestroySemaphore(s.rendered)
	}
	if s.semaphores > 0 {
		p.driver.DestroySemaphore(s.acquired)
	}
	s.semaphores = 0

	if s.hasSwapchain {
		p.driver.DestroySwapchain(s.swapchain)
		s.hasSwapchain = false
	}
	s.images = nil

	p.driver.DestroySurface(s.surface)
}

func (p *Presenter) detach(s *Surface) {
	for i, attached := range p.surfaces {
		if attached == s {
			p.surfaces = append(p.surfaces[:i], p.surfaces[i+1:]...)
			return
		}
	}
}

func (p *Presenter) remove(s *Surface) {
	p.detach(s)
	p.teardown(s)
	p.logger.Debug("Presenter::Remove", slog.Int("remaining", len(p.surfaces)))
}

// retire detaches s but keeps its swapchain and semaphores alive for work that is still in flight
func (p *Presenter) retire(s *Surface) {
	p.detach(s)
	p.retired = append(p.retired, s)
	p.logger.Debug("Presenter::Retire", slog.Int("remaining", len(p.surfaces)))
}

// Reap tears down every retired surface. It must run after the submission that presented them has
// completed. Presents aren't covered by that submission's fence, so the device is idled first.
func (p *Presenter) Reap() {
	if len(p.retired) == 0 {
		return
	}

	_, _ = p.driver.DeviceWaitIdle()
	for _, s := range p.retired {
		p.teardown(s)
	}
	p.logger.Debug("Presenter::Reap", slog.Int("surfaces", len(p.retired)))
	p.retired = nil
}

// Detach tears down an attached surface. The device must be idle.
func (p *Presenter) Detach(s *Surface) {
	p.remove(s)
}

// Destroy tears down every attached and retired surface. The device must be idle.
func (p *Presenter) Destroy() {
	for _, s := range p.surfaces {
		p.teardown(s)
	}
	p.surfaces = nil

	for _, s := range p.retired {
		p.teardown(s)
	}
	p.retired = nil
}

type target struct {
	surface    *Surface
	imageIndex int
}

// Frame holds the swapchain images acquired for one task run
type Frame struct {
	targets []target
}

// Empty reports whether no surface has an image to present
func (f *Frame) Empty() bool {
	return f == nil || len(f.targets) == 0
}

// WaitSemaphores are the semaphores the submission waits on before its transfers
func (f *Frame) WaitSemaphores() []core1_0.Semaphore {
	semaphores := make([]core1_0.Semaphore, 0, len(f.targets))
	for _, t := range f.targets {
		semaphores = append(semaphores, t.surface.acquired)
	}
	return semaphores
}

// WaitStages has one transfer stage per wait semaphore
func (f *Frame) WaitStages() []core1_0.PipelineStageFlags {
	stages := make([]core1_0.PipelineStageFlags, len(f.targets))
	for i := range stages {
		stages[i] = core1_0.PipelineStageTransfer
	}
	return stages
}

// SignalSemaphores are signaled by the submission and waited on by the present
func (f *Frame) SignalSemaphores() []core1_0.Semaphore {
	semaphores := make([]core1_0.Semaphore, 0, len(f.targets))
	for _, t := range f.targets {
		semaphores = append(semaphores, t.surface.rendered)
	}
	return semaphores
}

// Acquire takes the next image of every attached surface. Surfaces whose swapchain is out of date
// are torn down and left out of the frame. When acquiring fails, the returned frame still holds the
// images acquired so far: their acquire semaphores will be signaled and must be waited on before
// the next Acquire.
func (p *Presenter) Acquire() (*Frame, error) {
	frame := &Frame{}

	for _, s := range append([]*Surface(nil), p.surfaces...) {
		imageIndex, res, err := p.driver.AcquireNextImage(s.swapchain, s.acquired)
		if res == khr_swapchain.VKErrorOutOfDate {
			p.remove(s)
			continue
		}
		if err != nil {
			return frame, errors.Wrapf(err, "failed to acquire swapchain image (%s)", res)
		}

		frame.targets = append(frame.targets, target{surface: s, imageIndex: imageIndex})
	}

	p.logger.Debug("Presenter::Acquire", slog.Int("surfaces", len(frame.targets)))
	return frame, nil
}

func colorRange() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (p *Presenter) recordSwapchainTransition(commandBuffer core1_0.CommandBuffer, image core1_0.Image, oldLayout, newLayout core1_0.ImageLayout) error {
	barrier, srcStage, dstStage, err := resource.LayoutBarrier(image, core1_0.ImageAspectColor, oldLayout, newLayout, colorRange())
	if err != nil {
		return err
	}
	return p.driver.CmdPipelineBarrier(commandBuffer, srcStage, dstStage, nil, []core1_0.ImageMemoryBarrier{barrier})
}

// RecordBlits copies layer 0, level 0 of source into every acquired image with a nearest filter,
// stretching it over the full swapchain extent, and leaves the images ready to present
func (p *Presenter) RecordBlits(commandBuffer core1_0.CommandBuffer, frame *Frame, source *resource.Image) error {
	if frame.Empty() {
		return nil
	}
	if source == nil {
		return errors.New("presenting requires a source image")
	}
	if source.Usage()&core1_0.ImageUsageTransferSrc == 0 {
		return errors.Newf("image %d can't be presented without transfer-src usage", source.ID())
	}

	err := resource.TransitionLayout(p.driver, commandBuffer, source, core1_0.ImageLayoutTransferSrcOptimal)
	if err != nil {
		return err
	}

	sourceExtent := source.Extent()
	for _, t := range frame.targets {
		image := t.surface.images[t.imageIndex]

		err = p.recordSwapchainTransition(commandBuffer, image, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
		if err != nil {
			return err
		}

		err = p.driver.CmdBlitImage(commandBuffer,
			source.VulkanImage(), core1_0.ImageLayoutTransferSrcOptimal,
			image, core1_0.ImageLayoutTransferDstOptimal,
			[]core1_0.ImageBlit{
				{
					SrcSubresource: core1_0.ImageSubresourceLayers{
						AspectMask: core1_0.ImageAspectColor,
						LayerCount: 1,
					},
					SrcOffsets: [2]core1_0.Offset3D{
						{X: 0, Y: 0, Z: 0},
						{X: sourceExtent.Width, Y: sourceExtent.Height, Z: 1},
					},
					DstSubresource: core1_0.ImageSubresourceLayers{
						AspectMask: core1_0.ImageAspectColor,
						LayerCount: 1,
					},
					DstOffsets: [2]core1_0.Offset3D{
						{X: 0, Y: 0, Z: 0},
						{X: t.surface.extent.Width, Y: t.surface.extent.Height, Z: 1},
					},
				},
			}, core1_0.FilterNearest)
		if err != nil {
			return err
		}

		err = p.recordSwapchainTransition(commandBuffer, image, core1_0.ImageLayoutTransferDstOptimal, khr_swapchain.ImageLayoutPresentSrc)
		if err != nil {
			return err
		}
	}

	return resource.TransitionToRest(p.driver, commandBuffer, source)
}

// Present issues one batched present for every surface in the frame. When the batch reports out of
// date, surfaces whose current extent no longer matches their swapchain are retired; if none can be
// singled out, every surface in the frame is. Retired surfaces wait for Reap.
func (p *Presenter) Present(frame *Frame) error {
	if frame.Empty() {
		return nil
	}

	info := khr_swapchain.PresentInfo{
		WaitSemaphores: frame.SignalSemaphores(),
	}
	for _, t := range frame.targets {
		info.Swapchains = append(info.Swapchains, t.surface.swapchain)
		info.ImageIndices = append(info.ImageIndices, t.imageIndex)
	}

	res, err := p.driver.QueuePresent(info)
	if res == khr_swapchain.VKErrorOutOfDate {
		p.retireStale(frame)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to present (%s)", res)
	}

	p.logger.Debug("Presenter::Present", slog.Int("surfaces", len(frame.targets)))
	return nil
}

func (p *Presenter) retireStale(frame *Frame) {
	var stale []*Surface
	for _, t := range frame.targets {
		if p.isStale(t.surface) {
			stale = append(stale, t.surface)
		}
	}
	if len(stale) == 0 {
		for _, t := range frame.targets {
			stale = append(stale, t.surface)
		}
	}

	for _, s := range stale {
		p.retire(s)
	}
}

func (p *Presenter) isStale(s *Surface) bool {
	capabilities, res, err := p.driver.SurfaceCapabilities(s.surface)
	if err != nil || res != core1_0.VKSuccess {
		return true
	}

	current := capabilities.CurrentExtent
	if current.Width == -1 {
		return false
	}
	return current != s.extent
}
