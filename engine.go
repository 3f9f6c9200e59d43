// Package kiln is a GPU resource and execution engine. An Engine owns the driver, the resource
// factory, the presenter and the scheduler; arenas, render sets and compute sets are created through
// it and run as tasks on its single command buffer.
package kiln

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/kiln/arena"
	"github.com/vkngwrapper/kiln/compute"
	"github.com/vkngwrapper/kiln/internal/utils"
	"github.com/vkngwrapper/kiln/internal/vulkan"
	"github.com/vkngwrapper/kiln/present"
	"github.com/vkngwrapper/kiln/renderset"
	"github.com/vkngwrapper/kiln/resource"
	"github.com/vkngwrapper/kiln/task"
)

// Driver is the set of device entry points the engine runs against
type Driver = vulkan.Driver

// CoreOptions identifies the vkngwrapper device objects NewFromCore builds its driver from
type CoreOptions = vulkan.CoreOptions

// Options contains optional engine settings: it is valid to leave every field blank
type Options struct {
	Flags CreateFlags
	// StagingAlignment is the alignment of each region in a staging buffer, defaulting to
	// resource.DefaultStagingAlignment
	StagingAlignment int
	// DefaultSampler is used by sampled image bindings that don't provide their own
	DefaultSampler *resource.SamplerOptions
	// ArenaSizeHint is the size hint of arenas created without one
	ArenaSizeHint int
}

// ArenaOptions describes an arena created through the engine
type ArenaOptions struct {
	// SizeHint is a lower bound for the arena's capacity. Zero uses the engine's ArenaSizeHint.
	SizeHint int
	// HostVisible arenas are mapped for the host to read and write
	HostVisible bool
}

type Engine struct {
	logger  *slog.Logger
	options Options
	driver  vulkan.Driver

	deviceMemory *vulkan.DeviceMemoryProperties
	factory      *resource.Factory
	presenter    *present.Presenter
	scheduler    *task.Scheduler

	ownedMutex utils.OptionalMutex
	arenas     []*arena.Arena
	sets       []destroyer
	destroyed  bool
}

// destroyer is a render set or compute set created through the engine
type destroyer interface {
	Destroy()
}

// NewFromCore builds a driver on top of vkngwrapper's core device and instance drivers, then
// creates an engine on it
func NewFromCore(logger *slog.Logger, core CoreOptions, options Options) (*Engine, error) {
	driver, err := vulkan.NewCoreDriver(core)
	if err != nil {
		return nil, err
	}

	return New(logger, driver, options)
}

// New creates an engine on driver. The scheduler's command pool, command buffer and fence are
// created here; failing to create any of them fails the engine.
func New(logger *slog.Logger, driver Driver, options Options) (*Engine, error) {
	if driver == nil {
		return nil, errors.New("an engine requires a driver")
	}
	if options.ArenaSizeHint < 0 {
		return nil, errors.Newf("arena size hint %d is negative", options.ArenaSizeHint)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	synchronized := options.Flags&EngineCreateExternallySynchronized == 0

	deviceMemory, err := vulkan.NewDeviceMemoryProperties(driver, synchronized)
	if err != nil {
		return nil, err
	}

	factory, err := resource.NewFactory(logger, driver, deviceMemory, resource.FactoryOptions{
		StagingAlignment:       options.StagingAlignment,
		DefaultSampler:         options.DefaultSampler,
		ExternallySynchronized: !synchronized,
	})
	if err != nil {
		return nil, err
	}

	presenter := present.New(logger, driver)
	scheduler, err := task.NewScheduler(logger, driver, task.SchedulerOptions{
		Presenter:              presenter,
		ExternallySynchronized: !synchronized,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the scheduler")
	}

	logger.Debug("Engine::New",
		slog.String("flags", options.Flags.String()),
		slog.Int("memoryTypes", deviceMemory.MemoryTypeCount()))

	return &Engine{
		logger:       logger,
		options:      options,
		driver:       driver,
		deviceMemory: deviceMemory,
		factory:      factory,
		presenter:    presenter,
		scheduler:    scheduler,
		ownedMutex:   utils.NewOptionalMutex(synchronized),
	}, nil
}

func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

func (e *Engine) Driver() Driver {
	return e.driver
}

func (e *Engine) Factory() *resource.Factory {
	return e.factory
}

func (e *Engine) Presenter() *present.Presenter {
	return e.presenter
}

func (e *Engine) Scheduler() *task.Scheduler {
	return e.scheduler
}

// NewArena creates an arena owned by the engine. It is released when the engine is destroyed.
func (e *Engine) NewArena(options ArenaOptions) (*arena.Arena, error) {
	sizeHint := options.SizeHint
	if sizeHint == 0 {
		sizeHint = e.options.ArenaSizeHint
	}

	var flags arena.CreateFlags
	if e.options.Flags&EngineCreateExternallySynchronized != 0 {
		flags |= arena.ArenaCreateExternallySynchronized
	}
	if options.HostVisible {
		flags |= arena.ArenaCreateHostVisible
		if e.options.Flags&EngineCreateHostCoherentStaging != 0 {
			flags |= arena.ArenaCreateHostCoherent
		}
	}

	a, err := arena.New(e.logger, e.deviceMemory, arena.CreateOptions{
		Flags:    flags,
		SizeHint: sizeHint,
	})
	if err != nil {
		return nil, err
	}

	e.ownedMutex.Lock()
	defer e.ownedMutex.Unlock()
	e.arenas = append(e.arenas, a)

	return a, nil
}

func (e *Engine) Arenas() []*arena.Arena {
	e.ownedMutex.Lock()
	defer e.ownedMutex.Unlock()

	return append([]*arena.Arena(nil), e.arenas...)
}

// Prepare finalizes the arena and binds every resource reserved in it
func (e *Engine) Prepare(a *arena.Arena) error {
	return e.factory.Prepare(a)
}

func (e *Engine) CreateBuffer(a *arena.Arena, size int, usage core1_0.BufferUsageFlags) (*resource.Buffer, error) {
	return e.factory.CreateBuffer(a, size, usage)
}

func (e *Engine) CreateImage(a *arena.Arena, options resource.ImageOptions) (*resource.Image, error) {
	return e.factory.CreateImage(a, options)
}

func (e *Engine) CreateStagingBuffer(attachments ...resource.StagingAttachment) (*resource.StagingBuffer, error) {
	return e.factory.CreateStagingBuffer(attachments...)
}

// NewRenderSet creates a render set owned by the engine. Destroying it early is allowed; the engine
// destroys whatever is left when it is destroyed.
func (e *Engine) NewRenderSet(a *arena.Arena, options renderset.Options) (*renderset.RenderSet, error) {
	r, err := renderset.New(e.factory, a, options)
	if err != nil {
		return nil, err
	}
	e.own(r)
	return r, nil
}

// NewComputeSet creates a compute set owned by the engine
func (e *Engine) NewComputeSet(a *arena.Arena, options compute.Options) (*compute.Set, error) {
	s, err := compute.New(e.factory, a, options)
	if err != nil {
		return nil, err
	}
	e.own(s)
	return s, nil
}

func (e *Engine) own(set destroyer) {
	e.ownedMutex.Lock()
	defer e.ownedMutex.Unlock()
	e.sets = append(e.sets, set)
}

// Upload copies data into a bound resource with a one-shot submission
func (e *Engine) Upload(target resource.Resource, data []byte) error {
	return e.factory.Upload(e.scheduler, target, data)
}

// Download copies a bound resource back to the host with a one-shot submission
func (e *Engine) Download(source resource.Resource) ([]byte, error) {
	return e.factory.Download(e.scheduler, source)
}

// Attach hands surface to the presenter, which builds a swapchain for source images of sourceFormat
func (e *Engine) Attach(surface khr_surface.Surface, sourceFormat core1_0.Format, extent core1_0.Extent2D) (*present.Surface, error) {
	return e.presenter.Attach(surface, sourceFormat, extent)
}

// RecordAndRun runs the task on the engine's command buffer and waits for it to finish
func (e *Engine) RecordAndRun(t task.Task) error {
	if e.destroyed {
		return errors.New("the engine has been destroyed")
	}
	return e.scheduler.RecordAndRun(t)
}

// PrintStats writes the engine's live resources, surfaces and arenas into an open JSON object
func (e *Engine) PrintStats(json *jwriter.ObjectState) {
	json.Name("Flags").String(e.options.Flags.String())
	json.Name("LiveResources").Int(e.factory.LiveCount())
	json.Name("Surfaces").Int(e.presenter.Len())

	arenas := json.Name("Arenas").Array()
	defer arenas.End()

	for _, a := range e.Arenas() {
		obj := arenas.Object()
		a.PrintStats(&obj)
		obj.End()
	}
}

// BuildStatsString returns a JSON document describing the engine
func (e *Engine) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	e.PrintStats(&obj)
	obj.End()

	return string(writer.Bytes())
}

// Destroy waits for the device to go idle, then tears down the scheduler, every render set and
// compute set in reverse creation order, surfaces, every live resource and every arena
func (e *Engine) Destroy() {
	if e.destroyed {
		return
	}
	e.destroyed = true

	e.scheduler.Destroy()

	e.ownedMutex.Lock()
	defer e.ownedMutex.Unlock()

	// Render sets are usually created after the compute sets they record, so they go first
	for i := len(e.sets) - 1; i >= 0; i-- {
		e.sets[i].Destroy()
	}
	e.sets = nil

	e.presenter.Destroy()
	e.factory.DestroyAll()

	for _, a := range e.arenas {
		a.Release()
	}
	e.arenas = nil

	e.logger.Debug("Engine::Destroy")
}
