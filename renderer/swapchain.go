package renderer

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// SurfaceStatus reports whether the swapchain still matches the surface.
type SurfaceStatus int

const (
	SurfaceOptimal SurfaceStatus = iota
	// SurfaceStale means the swapchain is out of date or suboptimal and must be rebuilt.
	SurfaceStale
)

func (s SurfaceStatus) String() string {
	if s == SurfaceStale {
		return "stale"
	}
	return "optimal"
}

func surfaceStatus(res common.VkResult) SurfaceStatus {
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return SurfaceStale
	}
	return SurfaceOptimal
}

// SwapchainManager owns the swapchain and one view per swapchain image. Objects built on the
// images register themselves as dependents and must be destroyed before a rebuild.
type SwapchainManager struct {
	device *DeviceContext
	window Window
	logger *slog.Logger

	driver    khr_swapchain.ExtensionDriver
	swapchain khr_swapchain.Swapchain

	images      []core1_0.Image
	imageViews  []core1_0.ImageView
	format      core1_0.Format
	extent      core1_0.Extent2D
	presentMode khr_surface.PresentMode

	dependents int
}

func NewSwapchainManager(device *DeviceContext, window Window) (*SwapchainManager, error) {
	m := &SwapchainManager{
		device: device,
		window: window,
		logger: device.logger,
		driver: khr_swapchain.CreateExtensionDriverFromCoreDriver(device.deviceDriver),
	}

	err := m.build()
	if err != nil {
		m.Destroy()
		return nil, err
	}
	return m, nil
}

func (m *SwapchainManager) build() error {
	support, err := m.device.SwapchainSupport()
	if err != nil {
		return err
	}

	drawableWidth, drawableHeight := m.window.DrawableSize()
	surfaceFormat := ChooseSurfaceFormat(support.Formats)
	presentMode := ChoosePresentMode(support.PresentModes)
	extent := ChooseExtent(support.Capabilities, drawableWidth, drawableHeight)
	imageCount := ChooseImageCount(support.Capabilities)

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int

	families := m.device.queueFamilies
	if !families.Shared() {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *families.GraphicsFamily, *families.PresentFamily)
	}

	swapchain, _, err := m.driver.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: m.device.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return errors.Wrap(err, "creating swapchain")
	}
	m.swapchain = swapchain
	m.format = surfaceFormat.Format
	m.extent = extent
	m.presentMode = presentMode

	images, _, err := m.driver.GetSwapchainImages(m.swapchain)
	if err != nil {
		return err
	}
	m.images = images

	for _, image := range images {
		view, _, err := m.device.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   m.format,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return err
		}
		m.imageViews = append(m.imageViews, view)
	}

	m.logger.Info("swapchain built",
		"width", extent.Width,
		"height", extent.Height,
		"format", m.format,
		"presentMode", presentMode,
		"images", len(m.images),
		"sharing", sharingMode,
	)
	return nil
}

// Rebuild destroys the swapchain and its views and builds new ones from the current surface
// state. The caller must have waited for the device to go idle and destroyed every dependent.
func (m *SwapchainManager) Rebuild() error {
	if m.dependents > 0 {
		return errors.AssertionFailedf("swapchain rebuild with %d live dependents", m.dependents)
	}

	m.destroyChain()
	return m.build()
}

func (m *SwapchainManager) destroyChain() {
	for _, imageView := range m.imageViews {
		m.device.deviceDriver.DestroyImageView(imageView, nil)
	}
	m.imageViews = nil
	m.images = nil

	if m.swapchain.Initialized() {
		m.driver.DestroySwapchain(m.swapchain, nil)
		m.swapchain = khr_swapchain.Swapchain{}
	}
}

func (m *SwapchainManager) Destroy() {
	if m.dependents > 0 {
		m.logger.Warn("destroying swapchain with live dependents", "dependents", m.dependents)
	}
	m.destroyChain()
}

func (m *SwapchainManager) AddDependent() {
	m.dependents++
}

func (m *SwapchainManager) RemoveDependent() {
	if m.dependents > 0 {
		m.dependents--
	}
}

// AcquireNextImage blocks until an image is available, signalling signal once the image
// can be rendered to.
func (m *SwapchainManager) AcquireNextImage(signal core1_0.Semaphore) (int, SurfaceStatus, error) {
	imageIndex, res, err := m.driver.AcquireNextImage(m.swapchain, common.NoTimeout, &signal, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, SurfaceStale, nil
	} else if err != nil {
		return 0, SurfaceOptimal, err
	}

	return imageIndex, surfaceStatus(res), nil
}

// Present queues image for presentation once wait is signalled.
func (m *SwapchainManager) Present(queue core1_0.Queue, wait core1_0.Semaphore, imageIndex int) (SurfaceStatus, error) {
	res, err := m.driver.QueuePresent(queue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait},
		Swapchains:     []khr_swapchain.Swapchain{m.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	status := surfaceStatus(res)
	if status == SurfaceStale {
		return SurfaceStale, nil
	} else if err != nil {
		return SurfaceOptimal, err
	}

	return SurfaceOptimal, nil
}

func (m *SwapchainManager) Format() core1_0.Format { return m.format }
func (m *SwapchainManager) Extent() core1_0.Extent2D { return m.extent }
func (m *SwapchainManager) ImageCount() int { return len(m.images) }
func (m *SwapchainManager) ImageViews() []core1_0.ImageView { return m.imageViews }
