package renderer

import (
	"log/slog"
)

//go:generate mockgen -source=frame.go -destination=mock_frame_backend_test.go -package=renderer

// FrameBackend is what the frame loop needs from the GPU side. Slots are in-flight frame
// indices and images are swapchain image indices.
type FrameBackend interface {
	// AcquireImage waits for the next presentable image and arranges for the slot's
	// image-available semaphore to be signalled.
	AcquireImage(slot int) (image int, status SurfaceStatus, err error)
	UpdateUniforms(image int) error
	// Record makes sure image's command buffer holds the current draw. Recordings may be
	// cached until the next Recreate, so Record is not required to re-record every frame.
	Record(image int) error
	Submit(slot int, image int) error
	Present(slot int, image int) (SurfaceStatus, error)
	// Recreate rebuilds every swapchain-dependent object behind a device-idle barrier and
	// returns the new image count. A count of 0 means the drawable is empty and nothing was
	// rebuilt.
	Recreate() (imageCount int, err error)
}

// FrameOutcome is what a DrawFrame call ended up doing.
type FrameOutcome int

const (
	FramePresented FrameOutcome = iota
	// FrameRecreated means the swapchain was rebuilt; the frame may or may not have been
	// presented first.
	FrameRecreated
	// FrameDeferred means the drawable is empty and nothing was drawn.
	FrameDeferred
)

func (o FrameOutcome) String() string {
	switch o {
	case FramePresented:
		return "presented"
	case FrameRecreated:
		return "recreated"
	case FrameDeferred:
		return "deferred"
	}
	return "unknown"
}

// FrameOrchestrator runs the acquire, record, submit and present sequence and rebuilds the
// swapchain when the surface goes stale or the window is resized.
type FrameOrchestrator struct {
	backend FrameBackend
	sync    *SyncSet
	logger  *slog.Logger

	resizePending bool
}

func NewFrameOrchestrator(backend FrameBackend, sync *SyncSet, logger *slog.Logger) *FrameOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameOrchestrator{
		backend: backend,
		sync:    sync,
		logger:  logger,
	}
}

// NotifyResized schedules a swapchain rebuild for the start of the next frame.
func (o *FrameOrchestrator) NotifyResized() {
	o.resizePending = true
}

func (o *FrameOrchestrator) ResizePending() bool {
	return o.resizePending
}

func (o *FrameOrchestrator) Sync() *SyncSet {
	return o.sync
}

func (o *FrameOrchestrator) DrawFrame() (FrameOutcome, error) {
	if o.resizePending {
		outcome, err := o.recreate()
		if err != nil || outcome == FrameDeferred {
			return outcome, err
		}
	}

	err := o.sync.WaitForSlot()
	if err != nil {
		return FramePresented, err
	}

	slot := o.sync.CurrentSlot()
	image, status, err := o.backend.AcquireImage(slot)
	if err != nil {
		return FramePresented, err
	}
	if status == SurfaceStale {
		o.logger.Debug("acquire reported a stale swapchain", "slot", slot)
		return o.recreate()
	}

	err = o.sync.ClaimImage(image)
	if err != nil {
		return FramePresented, err
	}

	err = o.backend.UpdateUniforms(image)
	if err != nil {
		return FramePresented, err
	}

	err = o.backend.Record(image)
	if err != nil {
		return FramePresented, err
	}

	err = o.sync.ResetSlot()
	if err != nil {
		return FramePresented, err
	}

	err = o.backend.Submit(slot, image)
	if err != nil {
		return FramePresented, err
	}

	status, err = o.backend.Present(slot, image)
	if err != nil {
		return FramePresented, err
	}
	o.sync.Advance()

	if status == SurfaceStale {
		o.logger.Debug("present reported a stale swapchain", "slot", slot)
		return o.recreate()
	}

	return FramePresented, nil
}

func (o *FrameOrchestrator) recreate() (FrameOutcome, error) {
	o.resizePending = true

	imageCount, err := o.backend.Recreate()
	if err != nil {
		return FrameRecreated, err
	}
	if imageCount == 0 {
		return FrameDeferred, nil
	}

	o.resizePending = false
	o.sync.ResetImages(imageCount)
	return FrameRecreated, nil
}
