package task

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/internal/utils"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/present"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/validation"
)

// Scheduler owns the command pool, the single command buffer and the fence every run waits on.
// Runs are serialized unless the scheduler was created externally synchronized.
type Scheduler struct {
	driver    vulkan.Driver
	logger    *slog.Logger
	presenter *present.Presenter
	mutex     utils.OptionalMutex

	pool          core1_0.CommandPool
	commandBuffer core1_0.CommandBuffer
	fence         core1_0.Fence

	hasPool, hasCommandBuffer, hasFence bool
}

var _ resource.Submitter = &Scheduler{}

type SchedulerOptions struct {
	// Presenter is optional. Tasks that present run as if nothing was attached when it is nil.
	Presenter              *present.Presenter
	ExternallySynchronized bool
}

// NewScheduler creates the command pool, command buffer and fence against the driver's queue family
func NewScheduler(logger *slog.Logger, driver vulkan.Driver, options SchedulerOptions) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Scheduler{
		driver:    driver,
		logger:    logger,
		presenter: options.Presenter,
		mutex:     utils.NewOptionalMutex(!options.ExternallySynchronized),
	}

	err := s.create()
	if err != nil {
		s.Destroy()
		return nil, err
	}

	logger.Debug("Scheduler::New", slog.Int("queueFamily", driver.QueueFamilyIndex()))
	return s, nil
}

func (s *Scheduler) create() error {
	pool, res, err := s.driver.CreateCommandPool(core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: s.driver.QueueFamilyIndex(),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create command pool (%s)", res)
	}
	s.pool = pool
	s.hasPool = true

	commandBuffer, res, err := s.driver.AllocateCommandBuffer(pool)
	if err != nil {
		return errors.Wrapf(err, "failed to allocate command buffer (%s)", res)
	}
	s.commandBuffer = commandBuffer
	s.hasCommandBuffer = true

	fence, res, err := s.driver.CreateFence(core1_0.FenceCreateInfo{})
	if err != nil {
		return errors.Wrapf(err, "failed to create fence (%s)", res)
	}
	s.fence = fence
	s.hasFence = true

	return nil
}

func (s *Scheduler) Presenter() *present.Presenter {
	return s.presenter
}

// presenting reports whether a task asking to present has anywhere to present to
func (s *Scheduler) presenting(t Task) bool {
	return t.Present && s.presenter != nil && s.presenter.Len() > 0
}

// RecordAndRun records the task into the command buffer, submits it and waits for it to finish.
// Staging inputs are copied in first, then the items run in order, then staging outputs are
// copied back and, when the task presents and a surface is attached, the source image is blitted
// into every surface. On return every staging buffer holds the device's results.
func (s *Scheduler) RecordAndRun(t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var frame *present.Frame
	if s.presenting(t) {
		if t.Source == nil {
			return configError("source", validation.ErrMissingReference, "presenting requires a source image")
		}

		var err error
		frame, err = s.presenter.Acquire()
		if err != nil {
			return errors.CombineErrors(err, s.release(frame))
		}
	}

	err := s.record(func(commandBuffer core1_0.CommandBuffer) error {
		for _, staging := range t.Staging {
			if err := staging.RecordUploads(s.driver, commandBuffer); err != nil {
				return err
			}
		}

		for i, item := range t.Items {
			if err := item.Record(commandBuffer); err != nil {
				return errors.Wrapf(err, "failed to record item %d", i)
			}
		}

		for _, staging := range t.Staging {
			if err := staging.RecordDownloads(s.driver, commandBuffer); err != nil {
				return err
			}
		}

		if frame.Empty() {
			return nil
		}
		return s.presenter.RecordBlits(commandBuffer, frame, t.Source)
	})
	if err != nil {
		return errors.CombineErrors(err, s.release(frame))
	}

	submit := core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{s.commandBuffer},
	}
	if !frame.Empty() {
		submit.WaitSemaphores = frame.WaitSemaphores()
		submit.WaitDstStageMask = frame.WaitStages()
		submit.SignalSemaphores = frame.SignalSemaphores()
	}

	err = s.submit(submit, func() error {
		if frame.Empty() {
			return nil
		}
		return s.presenter.Present(frame)
	})
	if err != nil {
		return err
	}

	for _, staging := range t.Staging {
		if err := staging.Invalidate(); err != nil {
			return err
		}
	}

	s.logger.Debug("Scheduler::RecordAndRun",
		slog.Int("items", len(t.Items)),
		slog.Int("staging", len(t.Staging)),
		slog.Bool("presented", !frame.Empty()))
	return nil
}

// SubmitOneShot records a command buffer outside of any task, then submits it and waits for it
func (s *Scheduler) SubmitOneShot(record func(commandBuffer core1_0.CommandBuffer) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := s.record(record)
	if err != nil {
		return err
	}

	return s.submit(core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{s.commandBuffer},
	}, nil)
}

func (s *Scheduler) record(record func(commandBuffer core1_0.CommandBuffer) error) error {
	res, err := s.driver.BeginCommandBuffer(s.commandBuffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to begin command buffer (%s)", res)
	}

	recordErr := record(s.commandBuffer)

	// The command buffer is ended either way so the next run can begin it again
	res, err = s.driver.EndCommandBuffer(s.commandBuffer)
	if recordErr != nil {
		return recordErr
	}
	if err != nil {
		return errors.Wrapf(err, "failed to end command buffer (%s)", res)
	}

	return nil
}

// release waits on the acquire semaphores of a frame that will never be recorded, with a submission
// that carries no commands. The acquired images stay acquired until their swapchain is torn down.
func (s *Scheduler) release(frame *present.Frame) error {
	if frame.Empty() {
		return nil
	}

	err := s.submit(core1_0.SubmitInfo{
		WaitSemaphores:   frame.WaitSemaphores(),
		WaitDstStageMask: frame.WaitStages(),
	}, nil)
	if err != nil {
		return errors.Wrap(err, "failed to release acquired swapchain images")
	}

	s.logger.Debug("Scheduler::Release", slog.Int("surfaces", len(frame.WaitSemaphores())))
	return nil
}

// submit submits the recorded command buffer, runs afterSubmit while the device works, then waits
// on and resets the fence. Surfaces retired by afterSubmit are reaped once the fence is reset.
func (s *Scheduler) submit(info core1_0.SubmitInfo, afterSubmit func() error) error {
	res, err := s.driver.QueueSubmit(&s.fence, info)
	if err != nil {
		return errors.Wrapf(err, "failed to submit command buffer (%s)", res)
	}

	var afterErr error
	if afterSubmit != nil {
		afterErr = afterSubmit()
	}

	res, err = s.driver.WaitForFence(s.fence)
	if err != nil {
		return errors.Wrapf(err, "failed to wait for fence (%s)", res)
	}
	res, err = s.driver.ResetFence(s.fence)
	if err != nil {
		return errors.Wrapf(err, "failed to reset fence (%s)", res)
	}

	if s.presenter != nil {
		s.presenter.Reap()
	}
	return afterErr
}

// Destroy waits for the device to go idle, then releases the command buffer, pool and fence
func (s *Scheduler) Destroy() {
	if s.hasPool || s.hasFence {
		_, _ = s.driver.DeviceWaitIdle()
	}

	if s.hasCommandBuffer {
		s.driver.FreeCommandBuffer(s.commandBuffer)
		s.hasCommandBuffer = false
	}
	if s.hasPool {
		s.driver.DestroyCommandPool(s.pool)
		s.hasPool = false
	}
	if s.hasFence {
		s.driver.DestroyFence(s.fence)
		s.hasFence = false
	}
}
