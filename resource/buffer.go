package resource

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/arena"
)

// Buffer is a driver buffer backed by a region of an arena. Zero-sized buffers are legal: they own
// no driver object, reserve nothing and are never bound.
type Buffer struct {
	id      ID
	factory *Factory
	arena   *arena.Arena

	buffer    core1_0.Buffer
	size      int
	usage     core1_0.BufferUsageFlags
	offset    int
	bound     bool
	destroyed bool

	staging *StagingLink
}

func (b *Buffer) ID() ID {
	return b.id
}

func (b *Buffer) Size() int {
	return b.size
}

func (b *Buffer) Usage() core1_0.BufferUsageFlags {
	return b.usage
}

// Offset is the buffer's offset within its arena
func (b *Buffer) Offset() int {
	return b.offset
}

func (b *Buffer) Arena() *arena.Arena {
	return b.arena
}

func (b *Buffer) Bound() bool {
	return b.bound
}

// StagingLink returns the staging buffer the buffer was last attached to
func (b *Buffer) StagingLink() (StagingLink, bool) {
	if b.staging == nil {
		return StagingLink{}, false
	}
	return *b.staging, true
}

// Inert reports whether the buffer is zero-sized and has no driver object
func (b *Buffer) Inert() bool {
	return b.size == 0
}

func (b *Buffer) VulkanBuffer() core1_0.Buffer {
	return b.buffer
}

func (b *Buffer) bind() error {
	if b.bound || b.destroyed || b.Inert() {
		return nil
	}

	res, err := b.arena.BindBuffer(b.factory.driver, b.offset, b.buffer)
	if err != nil {
		return errors.Wrapf(err, "failed to bind buffer %d (%s)", b.id, res)
	}

	b.bound = true
	b.factory.logger.Debug("Buffer::Bind", slog.Int("id", int(b.id)), slog.Int("offset", b.offset))
	return nil
}

// Destroyed buffers keep their arena reservation but are never bound
func (b *Buffer) Destroyed() bool {
	return b.destroyed
}

func (b *Buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true

	if !b.Inert() {
		b.factory.driver.DestroyBuffer(b.buffer)
	}
	b.factory.unregister(b.id)
	b.bound = false
}
