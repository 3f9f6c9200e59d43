// Package task records and runs batches of render sets and compute sets. Every run records the
// engine's single command buffer, submits it and waits on a single fence before returning.
package task

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
)

// Executable is anything a task can run: render sets and compute sets both qualify
type Executable interface {
	Record(commandBuffer core1_0.CommandBuffer) error
}

// Task is an ordered list of executables and staging buffers. A task holds no driver objects and
// may be run any number of times.
type Task struct {
	Items   []Executable
	Staging []*resource.StagingBuffer

	// Present blits Source into every attached surface once the items have run. With no surface
	// attached it has no effect, and Source may be nil.
	Present bool
	Source  *resource.Image
}

func configError(field string, sentinel error, format string, args ...any) error {
	return validation.New("task", field, sentinel, format, args...)
}

// Validate checks the task's references without touching the driver
func (t Task) Validate() error {
	for i, item := range t.Items {
		if item == nil {
			return configError("items", validation.ErrMissingReference, "item %d is missing", i)
		}
	}
	for i, staging := range t.Staging {
		if staging == nil {
			return configError("staging", validation.ErrMissingReference, "staging buffer %d is missing", i)
		}
	}
	return nil
}
