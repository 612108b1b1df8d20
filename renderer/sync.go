package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// SlotFences blocks on and resets the fence belonging to an in-flight slot.
type SlotFences interface {
	WaitSlot(slot int) error
	ResetSlot(slot int) error
}

const noOwner = -1

// SyncSet tracks which in-flight slot is being recorded and which slot's fence last claimed
// each swapchain image. Slots cycle independently of image indices.
type SyncSet struct {
	fences         SlotFences
	framesInFlight int
	currentSlot    int
	imageOwners    []int
}

func NewSyncSet(fences SlotFences, framesInFlight, imageCount int) *SyncSet {
	s := &SyncSet{
		fences:         fences,
		framesInFlight: framesInFlight,
	}
	s.ResetImages(imageCount)
	return s
}

func (s *SyncSet) CurrentSlot() int {
	return s.currentSlot
}

func (s *SyncSet) FramesInFlight() int {
	return s.framesInFlight
}

// WaitForSlot blocks until the GPU is done with the last submission that used the current slot.
func (s *SyncSet) WaitForSlot() error {
	return s.fences.WaitSlot(s.currentSlot)
}

// ClaimImage waits on whichever slot last submitted work against image, then records the
// current slot as its owner.
func (s *SyncSet) ClaimImage(image int) error {
	if image < 0 || image >= len(s.imageOwners) {
		return errors.AssertionFailedf("image index %d outside a swapchain of %d images", image, len(s.imageOwners))
	}

	owner := s.imageOwners[image]
	if owner != noOwner {
		err := s.fences.WaitSlot(owner)
		if err != nil {
			return err
		}
	}

	s.imageOwners[image] = s.currentSlot
	return nil
}

// ImageOwner returns the slot that last claimed image.
func (s *SyncSet) ImageOwner(image int) (int, bool) {
	owner := s.imageOwners[image]
	return owner, owner != noOwner
}

func (s *SyncSet) ResetSlot() error {
	return s.fences.ResetSlot(s.currentSlot)
}

func (s *SyncSet) Advance() {
	s.currentSlot = (s.currentSlot + 1) % s.framesInFlight
}

// ResetImages forgets all image claims, for use after the swapchain was rebuilt.
func (s *SyncSet) ResetImages(imageCount int) {
	s.imageOwners = make([]int, imageCount)
	for i := range s.imageOwners {
		s.imageOwners[i] = noOwner
	}
}

// syncObjects holds the Vulkan semaphores and fences for every in-flight slot.
type syncObjects struct {
	driver core1_0.CoreDeviceDriver

	imageAvailable []core1_0.Semaphore
	renderFinished []core1_0.Semaphore
	inFlight       []core1_0.Fence
}

func newSyncObjects(driver core1_0.CoreDeviceDriver, slots int) (*syncObjects, error) {
	objects := &syncObjects{driver: driver}

	for i := 0; i < slots; i++ {
		semaphore, _, err := driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			objects.destroy()
			return nil, err
		}
		objects.imageAvailable = append(objects.imageAvailable, semaphore)

		semaphore, _, err = driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			objects.destroy()
			return nil, err
		}
		objects.renderFinished = append(objects.renderFinished, semaphore)

		fence, _, err := driver.CreateFence(nil, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			objects.destroy()
			return nil, err
		}
		objects.inFlight = append(objects.inFlight, fence)
	}

	return objects, nil
}

func (o *syncObjects) WaitSlot(slot int) error {
	_, err := o.driver.WaitForFences(true, common.NoTimeout, o.inFlight[slot])
	return err
}

func (o *syncObjects) ResetSlot(slot int) error {
	_, err := o.driver.ResetFences(o.inFlight[slot])
	return err
}

// refreshSemaphores replaces every semaphore. An acquire that reported a stale surface may
// have left its semaphore signaled with nobody waiting on it, so the set is swapped out
// while the device is idle.
func (o *syncObjects) refreshSemaphores() error {
	for i := range o.imageAvailable {
		semaphore, _, err := o.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return err
		}
		o.driver.DestroySemaphore(o.imageAvailable[i], nil)
		o.imageAvailable[i] = semaphore

		semaphore, _, err = o.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return err
		}
		o.driver.DestroySemaphore(o.renderFinished[i], nil)
		o.renderFinished[i] = semaphore
	}

	return nil
}

func (o *syncObjects) destroy() {
	for _, fence := range o.inFlight {
		o.driver.DestroyFence(fence, nil)
	}
	o.inFlight = nil

	for _, semaphore := range o.renderFinished {
		o.driver.DestroySemaphore(semaphore, nil)
	}
	o.renderFinished = nil

	for _, semaphore := range o.imageAvailable {
		o.driver.DestroySemaphore(semaphore, nil)
	}
	o.imageAvailable = nil
}
