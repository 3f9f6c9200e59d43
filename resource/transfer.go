package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/internal/vulkan"
)

// Submitter records and synchronously executes a single command buffer outside of any task
type Submitter interface {
	SubmitOneShot(record func(commandBuffer core1_0.CommandBuffer) error) error
}

func imageCopyRegion(target *Image, bufferOffset int) core1_0.BufferImageCopy {
	return core1_0.BufferImageCopy{
		BufferOffset: bufferOffset,
		ImageSubresource: core1_0.ImageSubresourceLayers{
			AspectMask:     target.AspectMask(),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     target.options.ArrayLayers,
		},
		ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: core1_0.Extent3D{
			Width:  target.options.Extent.Width,
			Height: target.options.Extent.Height,
			Depth:  1,
		},
	}
}

func bufferBarrier(buffer core1_0.Buffer, size int, src, dst core1_0.AccessFlags) core1_0.BufferMemoryBarrier {
	return core1_0.BufferMemoryBarrier{
		SrcAccessMask:       src,
		DstAccessMask:       dst,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		Buffer:              buffer,
		Offset:              0,
		Size:                size,
	}
}

// RecordUploads records the copies from the staging buffer to every input-tagged resource. Images are
// moved to transfer-dst for the copy, then have their mip chain generated or are returned to rest.
func (s *StagingBuffer) RecordUploads(driver vulkan.CommandDriver, commandBuffer core1_0.CommandBuffer) error {
	var barriers []core1_0.BufferMemoryBarrier

	for _, id := range s.order {
		entry, _ := s.entries.Get(id)
		if entry.direction&DirectionInput == 0 || entry.size == 0 {
			continue
		}

		switch target := entry.resource.(type) {
		case *Buffer:
			err := driver.CmdCopyBuffer(commandBuffer, s.buffer.buffer, target.buffer, []core1_0.BufferCopy{
				{SrcOffset: entry.offset, DstOffset: 0, Size: entry.size},
			})
			if err != nil {
				return err
			}
			barriers = append(barriers, bufferBarrier(target.buffer, entry.size, core1_0.AccessTransferWrite, core1_0.AccessMemoryRead))

		case *Image:
			err := TransitionLayout(driver, commandBuffer, target, core1_0.ImageLayoutTransferDstOptimal)
			if err != nil {
				return err
			}

			err = driver.CmdCopyBufferToImage(commandBuffer, s.buffer.buffer, target.image, core1_0.ImageLayoutTransferDstOptimal,
				[]core1_0.BufferImageCopy{imageCopyRegion(target, entry.offset)})
			if err != nil {
				return err
			}

			err = RecordMipChain(driver, commandBuffer, target)
			if err != nil {
				return err
			}
		}
	}

	if len(barriers) == 0 {
		return nil
	}

	return driver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageTransfer, core1_0.PipelineStageAllCommands, barriers, nil)
}

// RecordDownloads records the copies from every output-tagged resource back into the staging buffer,
// followed by the barrier that makes them visible to the host
func (s *StagingBuffer) RecordDownloads(driver vulkan.CommandDriver, commandBuffer core1_0.CommandBuffer) error {
	var sourceBarriers []core1_0.BufferMemoryBarrier
	for _, id := range s.order {
		entry, _ := s.entries.Get(id)
		if target, isBuffer := entry.resource.(*Buffer); isBuffer && entry.direction&DirectionOutput != 0 && entry.size > 0 {
			sourceBarriers = append(sourceBarriers, bufferBarrier(target.buffer, entry.size, core1_0.AccessMemoryWrite, core1_0.AccessTransferRead))
		}
	}
	if len(sourceBarriers) > 0 {
		err := driver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageAllCommands, core1_0.PipelineStageTransfer, sourceBarriers, nil)
		if err != nil {
			return err
		}
	}

	copied := false
	for _, id := range s.order {
		entry, _ := s.entries.Get(id)
		if entry.direction&DirectionOutput == 0 || entry.size == 0 {
			continue
		}

		switch source := entry.resource.(type) {
		case *Buffer:
			err := driver.CmdCopyBuffer(commandBuffer, source.buffer, s.buffer.buffer, []core1_0.BufferCopy{
				{SrcOffset: 0, DstOffset: entry.offset, Size: entry.size},
			})
			if err != nil {
				return err
			}

		case *Image:
			err := TransitionLayout(driver, commandBuffer, source, core1_0.ImageLayoutTransferSrcOptimal)
			if err != nil {
				return err
			}

			err = driver.CmdCopyImageToBuffer(commandBuffer, source.image, core1_0.ImageLayoutTransferSrcOptimal, s.buffer.buffer,
				[]core1_0.BufferImageCopy{imageCopyRegion(source, entry.offset)})
			if err != nil {
				return err
			}

			err = TransitionToRest(driver, commandBuffer, source)
			if err != nil {
				return err
			}
		}
		copied = true
	}

	if !copied {
		return nil
	}

	return driver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageTransfer, core1_0.PipelineStageHost, []core1_0.BufferMemoryBarrier{
		bufferBarrier(s.buffer.buffer, s.size, core1_0.AccessTransferWrite, core1_0.AccessHostRead),
	}, nil)
}

// Upload copies data into a bound resource through a temporary staging buffer and a one-shot
// submission. For images, data holds the base level of every array layer and the mip chain is
// regenerated.
func (f *Factory) Upload(submitter Submitter, target Resource, data []byte) error {
	if len(data) > target.Size() {
		return errors.Newf("%d bytes don't fit in resource %d of size %d", len(data), target.ID(), target.Size())
	}

	staging, err := f.CreateStagingBuffer(StagingAttachment{Resource: target, Direction: DirectionInput})
	if err != nil {
		return err
	}
	defer staging.Destroy()

	if err = staging.Write(target, data); err != nil {
		return err
	}

	return submitter.SubmitOneShot(func(commandBuffer core1_0.CommandBuffer) error {
		return staging.RecordUploads(f.driver, commandBuffer)
	})
}

// Download copies a bound resource's contents back to the host through a temporary staging buffer
// and a one-shot submission
func (f *Factory) Download(submitter Submitter, source Resource) ([]byte, error) {
	staging, err := f.CreateStagingBuffer(StagingAttachment{Resource: source, Direction: DirectionOutput})
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	err = submitter.SubmitOneShot(func(commandBuffer core1_0.CommandBuffer) error {
		return staging.RecordDownloads(f.driver, commandBuffer)
	})
	if err != nil {
		return nil, err
	}

	if err = staging.Invalidate(); err != nil {
		return nil, err
	}

	return staging.Read(source)
}
