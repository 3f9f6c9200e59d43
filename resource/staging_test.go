package resource_test

import (
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
	"go.uber.org/mock/gomock"
)

const transferUsage = core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst

func TestStaging_BufferRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 4096} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			driver, factory := readyFactory(t, ctrl)
			fake := newFakeDevice(t, driver)

			a := newArena(t, factory, 0)
			buffer, err := factory.CreateBuffer(a, size, core1_0.BufferUsageStorageBuffer|transferUsage)
			require.NoError(t, err)
			require.NoError(t, factory.Prepare(a))
			if size > 0 {
				// The buffer fills the whole arena
				require.Equal(t, a.Cursor(), a.Capacity())
			}

			staging, err := factory.CreateStagingBuffer(resource.StagingAttachment{Resource: buffer, Direction: resource.DirectionBoth})
			require.NoError(t, err)
			require.Equal(t, size, staging.Size())

			link, linked := buffer.StagingLink()
			require.True(t, linked)
			require.Equal(t, staging.ID(), link.Staging)
			require.Equal(t, 0, link.Offset)

			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i*7 + 3)
			}
			require.NoError(t, staging.Write(buffer, data))

			require.NoError(t, staging.RecordUploads(driver, core1_0.CommandBuffer{}))
			// Clear the host side so the download has to bring the bytes back
			require.NoError(t, staging.Write(buffer, make([]byte, size)))
			require.NoError(t, staging.RecordDownloads(driver, core1_0.CommandBuffer{}))
			require.NoError(t, staging.Invalidate())

			readBack, err := staging.Read(buffer)
			require.NoError(t, err)
			require.Equal(t, data, readBack)

			if size == 0 {
				require.Empty(t, fake.memories)
			}

			staging.Destroy()
			buffer.Destroy()
			a.Release()
			require.Zero(t, factory.LiveCount())
		})
	}
}

func TestStaging_RegionsAreAligned(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, factory := readyFactory(t, ctrl)
	newFakeDevice(t, driver)

	a := newArena(t, factory, 0)
	first, err := factory.CreateBuffer(a, 5, transferUsage)
	require.NoError(t, err)
	second, err := factory.CreateBuffer(a, 9, transferUsage)
	require.NoError(t, err)
	empty, err := factory.CreateBuffer(a, 0, transferUsage)
	require.NoError(t, err)

	staging, err := factory.CreateStagingBuffer(
		resource.StagingAttachment{Resource: first, Direction: resource.DirectionInput},
		resource.StagingAttachment{Resource: empty, Direction: resource.DirectionInput},
		resource.StagingAttachment{Resource: second, Direction: resource.DirectionOutput},
	)
	require.NoError(t, err)

	offset, ok := staging.Offset(first)
	require.True(t, ok)
	require.Equal(t, 0, offset)
	offset, ok = staging.Offset(empty)
	require.True(t, ok)
	require.Equal(t, resource.DefaultStagingAlignment, offset)
	offset, ok = staging.Offset(second)
	require.True(t, ok)
	require.Equal(t, resource.DefaultStagingAlignment, offset)
	require.Equal(t, resource.DefaultStagingAlignment+9, staging.Size())

	require.Len(t, staging.Attachments(), 3)

	err = staging.Write(first, make([]byte, 6))
	require.Error(t, err)
}

func TestStaging_ImageRegionsAlignToTexels(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, factory := readyFactory(t, ctrl)
	newFakeDevice(t, driver)

	a := newArena(t, factory, 0)
	header, err := factory.CreateBuffer(a, 20, transferUsage)
	require.NoError(t, err)
	positions, err := factory.CreateImage(a, resource.ImageOptions{
		Extent: core1_0.Extent2D{Width: 3, Height: 1},
		Format: core1_0.FormatR32G32B32SignedFloat,
		Access: resource.AccessTexture,
	})
	require.NoError(t, err)
	trailer, err := factory.CreateBuffer(a, 4, transferUsage)
	require.NoError(t, err)

	staging, err := factory.CreateStagingBuffer(
		resource.StagingAttachment{Resource: header, Direction: resource.DirectionInput},
		resource.StagingAttachment{Resource: positions, Direction: resource.DirectionInput},
		resource.StagingAttachment{Resource: trailer, Direction: resource.DirectionInput},
	)
	require.NoError(t, err)

	// 12-byte texels and 16-byte regions meet at 48
	offset, ok := staging.Offset(positions)
	require.True(t, ok)
	require.Equal(t, 48, offset)
	require.Zero(t, offset%12)
	require.Zero(t, offset%resource.DefaultStagingAlignment)

	// Buffers only need the staging alignment
	offset, ok = staging.Offset(trailer)
	require.True(t, ok)
	require.Equal(t, 48+36+12, offset)
	require.Equal(t, 48+36+12+4, staging.Size())
}

func TestStaging_RejectsBadAttachments(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, factory := readyFactory(t, ctrl)
	newFakeDevice(t, driver)

	a := newArena(t, factory, 0)
	uniform, err := factory.CreateBuffer(a, 64, core1_0.BufferUsageUniformBuffer)
	require.NoError(t, err)
	storage, err := factory.CreateBuffer(a, 64, core1_0.BufferUsageStorageBuffer|transferUsage)
	require.NoError(t, err)

	_, err = factory.CreateStagingBuffer(resource.StagingAttachment{Resource: uniform, Direction: resource.DirectionInput})
	require.ErrorIs(t, err, validation.ErrInvalidValue)
	require.True(t, validation.IsConfigError(err))

	_, err = factory.CreateStagingBuffer(resource.StagingAttachment{Resource: storage})
	require.ErrorIs(t, err, validation.ErrInvalidValue)

	_, err = factory.CreateStagingBuffer(resource.StagingAttachment{Direction: resource.DirectionInput})
	require.ErrorIs(t, err, validation.ErrMissingReference)

	_, err = factory.CreateStagingBuffer(
		resource.StagingAttachment{Resource: storage, Direction: resource.DirectionInput},
		resource.StagingAttachment{Resource: storage, Direction: resource.DirectionOutput},
	)
	require.ErrorIs(t, err, validation.ErrDuplicate)
}

func checkerboard(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 255, G: 32, B: 0, A: 255})
			} else {
				img.Set(x, y, color.NRGBA{R: 0, G: 64, B: 200, A: 255})
			}
		}
	}
	return img
}

func TestStaging_ImageRoundTrip(t *testing.T) {
	for _, format := range []core1_0.Format{core1_0.FormatR8G8B8A8SRGB, core1_0.FormatB8G8R8A8UnsignedNormalized} {
		t.Run(format.String(), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			driver, factory := readyFactory(t, ctrl)
			fake := newFakeDevice(t, driver)

			a := newArena(t, factory, 0)
			texture, err := factory.CreateImage(a, resource.ImageOptions{
				Extent:      core1_0.Extent2D{Width: 4, Height: 4},
				Format:      format,
				ArrayLayers: 2,
				MipLevels:   3,
				Access:      resource.AccessTexture,
				Usage:       core1_0.ImageUsageTransferSrc,
			})
			require.NoError(t, err)
			require.NoError(t, factory.Prepare(a))

			staging, err := factory.CreateStagingBuffer(resource.StagingAttachment{Resource: texture, Direction: resource.DirectionBoth})
			require.NoError(t, err)
			require.Equal(t, 4*4*4*2, staging.Size())

			source := checkerboard(4, 4)
			require.NoError(t, staging.WriteImage(texture, 1, source))

			raw, err := staging.Read(texture)
			require.NoError(t, err)
			if format == core1_0.FormatB8G8R8A8UnsignedNormalized {
				require.Equal(t, []byte{0, 32, 255, 255}, raw[64:68])
			} else {
				require.Equal(t, []byte{255, 32, 0, 255}, raw[64:68])
			}

			require.NoError(t, staging.RecordUploads(driver, core1_0.CommandBuffer{}))
			require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, texture.Layout())
			require.Equal(t, raw, fake.images[0].bytes)

			require.NoError(t, staging.Write(texture, make([]byte, staging.Size())))
			require.NoError(t, staging.RecordDownloads(driver, core1_0.CommandBuffer{}))
			require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, texture.Layout())

			layer, err := staging.ReadImage(texture, 1)
			require.NoError(t, err)
			for y := 0; y < 4; y++ {
				for x := 0; x < 4; x++ {
					require.Equal(t, color.RGBAModel.Convert(source.At(x, y)), layer.At(x, y))
				}
			}

			_, err = staging.ReadImage(texture, 2)
			require.Error(t, err)
		})
	}
}

func TestStaging_WriteImageScales(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, factory := readyFactory(t, ctrl)
	newFakeDevice(t, driver)

	a := newArena(t, factory, 0)
	texture, err := factory.CreateImage(a, resource.ImageOptions{
		Extent: core1_0.Extent2D{Width: 2, Height: 2},
		Format: core1_0.FormatR8G8B8A8UnsignedNormalized,
		Access: resource.AccessTexture,
	})
	require.NoError(t, err)

	staging, err := factory.CreateStagingBuffer(resource.StagingAttachment{Resource: texture, Direction: resource.DirectionInput})
	require.NoError(t, err)

	src := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	require.NoError(t, staging.WriteImage(texture, 0, src))

	layer, err := staging.ReadImage(texture, 0)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 2, 2), layer.Bounds())
	pixel := layer.RGBAAt(1, 1)
	require.InDelta(t, 10, int(pixel.R), 1)
	require.InDelta(t, 20, int(pixel.G), 1)
	require.InDelta(t, 30, int(pixel.B), 1)
	require.Equal(t, uint8(255), pixel.A)
}

func TestFactory_UploadDownload(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver, factory := readyFactory(t, ctrl)
	newFakeDevice(t, driver)

	a := newArena(t, factory, 0)
	buffer, err := factory.CreateBuffer(a, 32, core1_0.BufferUsageStorageBuffer|transferUsage)
	require.NoError(t, err)
	require.NoError(t, factory.Prepare(a))

	submitter := &immediateSubmitter{}
	data := []byte("sixteen byte str")
	require.NoError(t, factory.Upload(submitter, buffer, data))

	readBack, err := factory.Download(submitter, buffer)
	require.NoError(t, err)
	require.Equal(t, 2, submitter.submissions)
	require.Len(t, readBack, 32)
	require.Equal(t, data, readBack[:len(data)])

	// Temporary staging buffers are gone once the transfer returns
	require.Equal(t, 1, factory.LiveCount())

	err = factory.Upload(submitter, buffer, make([]byte, 33))
	require.Error(t, err)
}
