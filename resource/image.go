package resource

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/validation"
)

// ImageOptions describes a 2D image, optionally layered and mipmapped
type ImageOptions struct {
	Extent core1_0.Extent2D
	Format core1_0.Format
	// Usage is combined with the usage implied by Access and MipLevels
	Usage core1_0.ImageUsageFlags
	// Samples defaults to core1_0.Samples1
	Samples core1_0.SampleCountFlags
	// MipLevels defaults to 1
	MipLevels int
	// ArrayLayers defaults to 1
	ArrayLayers int
	Access      AccessMode
}

func (o *ImageOptions) applyDefaults() {
	if o.Samples == 0 {
		o.Samples = core1_0.Samples1
	}
	if o.MipLevels == 0 {
		o.MipLevels = 1
	}
	if o.ArrayLayers == 0 {
		o.ArrayLayers = 1
	}
}

// Validate reports malformed options without touching the driver
func (o ImageOptions) Validate() error {
	if o.Extent.Width < 1 || o.Extent.Height < 1 {
		return validation.New("image", "extent", validation.ErrZeroSize, "%dx%d", o.Extent.Width, o.Extent.Height)
	}
	if o.Format == core1_0.FormatUndefined {
		return validation.New("image", "format", validation.ErrUnknownFormat, "no format was provided")
	}
	if o.MipLevels < 0 || o.ArrayLayers < 0 {
		return validation.New("image", "levels", validation.ErrInvalidValue, "%d mip levels, %d array layers", o.MipLevels, o.ArrayLayers)
	}
	if _, known := accessModeMapping[o.Access]; !known {
		return validation.New("image", "access", validation.ErrUnknownKind, "access mode %d", o.Access)
	}
	if o.MipLevels > 1 && o.Samples > core1_0.Samples1 {
		return validation.New("image", "samples", validation.ErrInvalidValue, "multisampled images can't be mipmapped")
	}

	return nil
}

func (o ImageOptions) implicitUsage() core1_0.ImageUsageFlags {
	usage := o.Usage

	switch o.Access {
	case AccessProtected, AccessOutput:
		usage |= core1_0.ImageUsageTransferSrc
	case AccessTexture:
		usage |= core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst
	case AccessStorage:
		usage |= core1_0.ImageUsageStorage | core1_0.ImageUsageTransferSrc
	}

	if o.MipLevels > 1 {
		usage |= core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst
	}

	return usage
}

// Image is a driver image backed by a region of an arena. The layout is tracked as commands are
// recorded, so it reflects the layout the image will have once the recorded work executes.
type Image struct {
	id      ID
	factory *Factory
	arena   *arena.Arena

	image     core1_0.Image
	options   ImageOptions
	offset    int
	bound     bool
	destroyed bool
	layout    core1_0.ImageLayout

	view       core1_0.ImageView
	hasView    bool
	layerViews map[int]core1_0.ImageView

	staging *StagingLink
}

func (i *Image) ID() ID {
	return i.id
}

// Size is the number of bytes needed to stage the image's base level across every array layer
func (i *Image) Size() int {
	texelSize, ok := TexelSize(i.options.Format)
	if !ok {
		return 0
	}
	return i.options.Extent.Width * i.options.Extent.Height * i.options.ArrayLayers * texelSize
}

func (i *Image) Options() ImageOptions {
	return i.options
}

func (i *Image) Extent() core1_0.Extent2D {
	return i.options.Extent
}

func (i *Image) Format() core1_0.Format {
	return i.options.Format
}

func (i *Image) Samples() core1_0.SampleCountFlags {
	return i.options.Samples
}

func (i *Image) MipLevels() int {
	return i.options.MipLevels
}

func (i *Image) ArrayLayers() int {
	return i.options.ArrayLayers
}

func (i *Image) Access() AccessMode {
	return i.options.Access
}

func (i *Image) Usage() core1_0.ImageUsageFlags {
	return i.options.implicitUsage()
}

// Offset is the image's offset within its arena
func (i *Image) Offset() int {
	return i.offset
}

func (i *Image) Arena() *arena.Arena {
	return i.arena
}

func (i *Image) Bound() bool {
	return i.bound
}

func (i *Image) VulkanImage() core1_0.Image {
	return i.image
}

// StagingLink returns the staging buffer the image was last attached to
func (i *Image) StagingLink() (StagingLink, bool) {
	if i.staging == nil {
		return StagingLink{}, false
	}
	return *i.staging, true
}

// Layout is the layout the image is in after all the commands recorded so far
func (i *Image) Layout() core1_0.ImageLayout {
	return i.layout
}

// AssumeLayout records that work recorded outside of TransitionLayout, such as a render pass's final
// layout, left the image in layout
func (i *Image) AssumeLayout(layout core1_0.ImageLayout) {
	i.layout = layout
}

func (i *Image) AspectMask() core1_0.ImageAspectFlags {
	return aspectMask(i.options.Format)
}

// RestingLayout is the layout the image is returned to after every transfer, render or dispatch
func (i *Image) RestingLayout() core1_0.ImageLayout {
	switch i.options.Access {
	case AccessTexture:
		return core1_0.ImageLayoutShaderReadOnlyOptimal
	case AccessOutput:
		return core1_0.ImageLayoutTransferSrcOptimal
	case AccessStorage:
		return core1_0.ImageLayoutGeneral
	}

	if IsDepthFormat(i.options.Format) {
		return core1_0.ImageLayoutDepthStencilAttachmentOptimal
	}
	return core1_0.ImageLayoutColorAttachmentOptimal
}

func (i *Image) bind() error {
	if i.bound || i.destroyed {
		return nil
	}

	res, err := i.arena.BindImage(i.factory.driver, i.offset, i.image)
	if err != nil {
		return errors.Wrapf(err, "failed to bind image %d (%s)", i.id, res)
	}

	i.bound = true
	i.factory.logger.Debug("Image::Bind", slog.Int("id", int(i.id)), slog.Int("offset", i.offset))
	return nil
}

func (i *Image) subresourceRange() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     i.AspectMask(),
		BaseMipLevel:   0,
		LevelCount:     i.options.MipLevels,
		BaseArrayLayer: 0,
		LayerCount:     i.options.ArrayLayers,
	}
}

// View returns a view over every level and layer of the image, creating it on first use. The image
// must be bound.
func (i *Image) View() (core1_0.ImageView, error) {
	if i.hasView {
		return i.view, nil
	}
	if !i.bound {
		return core1_0.ImageView{}, errors.Newf("image %d must be bound before a view can be created", i.id)
	}

	viewType := core1_0.ImageViewType2D
	if i.options.ArrayLayers > 1 {
		viewType = core1_0.ImageViewType2DArray
	}

	view, res, err := i.factory.driver.CreateImageView(core1_0.ImageViewCreateInfo{
		Image:            i.image,
		ViewType:         viewType,
		Format:           i.options.Format,
		SubresourceRange: i.subresourceRange(),
	})
	if err != nil {
		return core1_0.ImageView{}, errors.Wrapf(err, "failed to create a view of image %d (%s)", i.id, res)
	}

	i.view = view
	i.hasView = true
	return view, nil
}

// LayerView returns a view over the base level of a single array layer, as used by framebuffers
func (i *Image) LayerView(layer int) (core1_0.ImageView, error) {
	if layer < 0 || layer >= i.options.ArrayLayers {
		return core1_0.ImageView{}, errors.Newf("layer %d is outside of image %d with %d layers", layer, i.id, i.options.ArrayLayers)
	}
	if i.options.ArrayLayers == 1 && i.options.MipLevels == 1 {
		return i.View()
	}
	if view, ok := i.layerViews[layer]; ok {
		return view, nil
	}
	if !i.bound {
		return core1_0.ImageView{}, errors.Newf("image %d must be bound before a view can be created", i.id)
	}

	view, res, err := i.factory.driver.CreateImageView(core1_0.ImageViewCreateInfo{
		Image:    i.image,
		ViewType: core1_0.ImageViewType2D,
		Format:   i.options.Format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     i.AspectMask(),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: layer,
			LayerCount:     1,
		},
	})
	if err != nil {
		return core1_0.ImageView{}, errors.Wrapf(err, "failed to create a view of layer %d of image %d (%s)", layer, i.id, res)
	}

	if i.layerViews == nil {
		i.layerViews = make(map[int]core1_0.ImageView)
	}
	i.layerViews[layer] = view
	return view, nil
}

func (i *Image) Destroyed() bool {
	return i.destroyed
}

func (i *Image) Destroy() {
	if i.destroyed {
		return
	}
	i.destroyed = true
	driver := i.factory.driver

	for _, view := range i.layerViews {
		driver.DestroyImageView(view)
	}
	i.layerViews = nil

	if i.hasView {
		driver.DestroyImageView(i.view)
		i.hasView = false
	}

	driver.DestroyImage(i.image)
	i.factory.unregister(i.id)
	i.bound = false
}
