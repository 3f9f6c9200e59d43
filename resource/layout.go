package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/kiln/internal/vulkan"
)

type layoutUsage struct {
	access core1_0.AccessFlags
	stage  core1_0.PipelineStageFlags
}

var layoutUsages = map[core1_0.ImageLayout]layoutUsage{
	core1_0.ImageLayoutUndefined: {0, core1_0.PipelineStageTopOfPipe},
	core1_0.ImageLayoutGeneral: {
		core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
		core1_0.PipelineStageComputeShader,
	},
	core1_0.ImageLayoutColorAttachmentOptimal: {
		core1_0.AccessColorAttachmentWrite,
		core1_0.PipelineStageColorAttachmentOutput,
	},
	core1_0.ImageLayoutDepthStencilAttachmentOptimal: {
		core1_0.AccessDepthStencilAttachmentWrite,
		core1_0.PipelineStageEarlyFragmentTests,
	},
	core1_0.ImageLayoutShaderReadOnlyOptimal: {
		core1_0.AccessShaderRead,
		core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader,
	},
	core1_0.ImageLayoutTransferSrcOptimal: {core1_0.AccessTransferRead, core1_0.PipelineStageTransfer},
	core1_0.ImageLayoutTransferDstOptimal: {core1_0.AccessTransferWrite, core1_0.PipelineStageTransfer},
	khr_swapchain.ImageLayoutPresentSrc:   {0, core1_0.PipelineStageBottomOfPipe},
}

// LayoutBarrier builds the barrier that moves a range of an image's levels and layers between layouts
func LayoutBarrier(image core1_0.Image, aspect core1_0.ImageAspectFlags, oldLayout, newLayout core1_0.ImageLayout, subresources core1_0.ImageSubresourceRange) (core1_0.ImageMemoryBarrier, core1_0.PipelineStageFlags, core1_0.PipelineStageFlags, error) {
	src, ok := layoutUsages[oldLayout]
	if !ok {
		return core1_0.ImageMemoryBarrier{}, 0, 0, errors.Newf("unexpected layout transition from %s", oldLayout)
	}
	dst, ok := layoutUsages[newLayout]
	if !ok || newLayout == core1_0.ImageLayoutUndefined {
		return core1_0.ImageMemoryBarrier{}, 0, 0, errors.Newf("unexpected layout transition to %s", newLayout)
	}

	subresources.AspectMask = aspect
	return core1_0.ImageMemoryBarrier{
		Image:               image,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		SrcAccessMask:       src.access,
		DstAccessMask:       dst.access,
		SubresourceRange:    subresources,
	}, src.stage, dst.stage, nil
}

// TransitionLayout records a barrier moving every level and layer of the image from its tracked
// layout to newLayout. Nothing is recorded when the image is already in newLayout.
func TransitionLayout(driver vulkan.CommandDriver, commandBuffer core1_0.CommandBuffer, image *Image, newLayout core1_0.ImageLayout) error {
	if image.layout == newLayout {
		return nil
	}

	err := recordLevelTransition(driver, commandBuffer, image, image.layout, newLayout, 0, image.options.MipLevels)
	if err != nil {
		return err
	}

	image.layout = newLayout
	return nil
}

// TransitionToRest records the barrier that returns the image to its resting layout
func TransitionToRest(driver vulkan.CommandDriver, commandBuffer core1_0.CommandBuffer, image *Image) error {
	return TransitionLayout(driver, commandBuffer, image, image.RestingLayout())
}

func recordLevelTransition(driver vulkan.CommandDriver, commandBuffer core1_0.CommandBuffer, image *Image, oldLayout, newLayout core1_0.ImageLayout, baseLevel, levelCount int) error {
	barrier, srcStage, dstStage, err := LayoutBarrier(image.image, image.AspectMask(), oldLayout, newLayout, core1_0.ImageSubresourceRange{
		BaseMipLevel:   baseLevel,
		LevelCount:     levelCount,
		BaseArrayLayer: 0,
		LayerCount:     image.options.ArrayLayers,
	})
	if err != nil {
		return err
	}

	return driver.CmdPipelineBarrier(commandBuffer, srcStage, dstStage, nil, []core1_0.ImageMemoryBarrier{barrier})
}

// RecordMipChain fills levels 1 and up of the image from its base level, which must already hold
// the source content. Each level is blitted from the previous one with a linear filter, one region
// per array layer, and is moved to transfer-source before the next level reads it. Afterwards every
// level is moved to the image's resting layout. Images with a single level are only transitioned.
func RecordMipChain(driver vulkan.CommandDriver, commandBuffer core1_0.CommandBuffer, image *Image) error {
	levels := image.options.MipLevels
	if levels <= 1 {
		return TransitionToRest(driver, commandBuffer, image)
	}

	// Base level becomes the first blit source, the rest are overwritten so their contents can go
	err := recordLevelTransition(driver, commandBuffer, image, image.layout, core1_0.ImageLayoutTransferSrcOptimal, 0, 1)
	if err != nil {
		return err
	}
	err = recordLevelTransition(driver, commandBuffer, image, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal, 1, levels-1)
	if err != nil {
		return err
	}

	aspect := image.AspectMask()
	for level := 1; level < levels; level++ {
		srcExtent := MipExtent(image.options.Extent, level-1)
		dstExtent := MipExtent(image.options.Extent, level)

		regions := make([]core1_0.ImageBlit, 0, image.options.ArrayLayers)
		for layer := 0; layer < image.options.ArrayLayers; layer++ {
			regions = append(regions, core1_0.ImageBlit{
				SrcSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     aspect,
					MipLevel:       level - 1,
					BaseArrayLayer: layer,
					LayerCount:     1,
				},
				SrcOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: srcExtent.Width, Y: srcExtent.Height, Z: 1},
				},
				DstSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     aspect,
					MipLevel:       level,
					BaseArrayLayer: layer,
					LayerCount:     1,
				},
				DstOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: dstExtent.Width, Y: dstExtent.Height, Z: 1},
				},
			})
		}

		err = driver.CmdBlitImage(commandBuffer,
			image.image, core1_0.ImageLayoutTransferSrcOptimal,
			image.image, core1_0.ImageLayoutTransferDstOptimal,
			regions, core1_0.FilterLinear)
		if err != nil {
			return err
		}

		err = recordLevelTransition(driver, commandBuffer, image, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal, level, 1)
		if err != nil {
			return err
		}
	}

	image.layout = core1_0.ImageLayoutTransferSrcOptimal
	return TransitionToRest(driver, commandBuffer, image)
}

// RecordShaderWriteBarrier makes compute shader writes to every level and layer of the image visible
// to all later commands, leaving the layout unchanged
func RecordShaderWriteBarrier(driver vulkan.CommandDriver, commandBuffer core1_0.CommandBuffer, image *Image) error {
	barrier := core1_0.ImageMemoryBarrier{
		Image:               image.image,
		OldLayout:           image.layout,
		NewLayout:           image.layout,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		SrcAccessMask:       core1_0.AccessShaderWrite,
		DstAccessMask:       core1_0.AccessShaderRead | core1_0.AccessShaderWrite | core1_0.AccessTransferRead,
		SubresourceRange:    image.subresourceRange(),
	}

	return driver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageComputeShader, core1_0.PipelineStageAllCommands, nil, []core1_0.ImageMemoryBarrier{barrier})
}
