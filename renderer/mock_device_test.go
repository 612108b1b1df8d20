package renderer

import (
	"io"
	"log/slog"
	"slices"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"go.uber.org/mock/gomock"
)

// mockDevice is a DeviceContext and ResourceFactory backed by mocked Vulkan drivers.
type mockDevice struct {
	ctrl     *gomock.Controller
	device   core1_0.Device
	driver   *mocks1_0.MockCoreDeviceDriver
	instance *mocks1_0.MockCoreInstanceDriver
	queue    core1_0.Queue

	context *DeviceContext
	factory *ResourceFactory
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockDevice(t *testing.T) *mockDevice {
	ctrl := gomock.NewController(t)
	instance := mocks.NewDummyInstance(common.Vulkan1_0, []string{})
	device := mocks.NewDummyDevice(common.Vulkan1_0, []string{})
	graphicsFamily := 0

	m := &mockDevice{
		ctrl:     ctrl,
		device:   device,
		driver:   mocks1_0.NewMockCoreDeviceDriver(ctrl),
		instance: mocks1_0.NewMockCoreInstanceDriver(ctrl),
		queue:    mocks.NewDummyQueue(device),
	}

	m.context = &DeviceContext{
		config:         DefaultConfig(),
		logger:         discardLogger(),
		instanceDriver: m.instance,
		deviceDriver:   m.driver,
		physicalDevice: mocks.NewDummyPhysicalDevice(instance, common.Vulkan1_0),
		deviceName:     "mock device",
		queueFamilies:  QueueFamilyIndices{GraphicsFamily: &graphicsFamily, PresentFamily: &graphicsFamily},
		graphicsQueue:  m.queue,
		presentQueue:   m.queue,
		msaaSamples:    core1_0.Samples4,
		depthFormat:    core1_0.FormatD32SignedFloat,
	}
	m.factory = &ResourceFactory{
		device:      m.context,
		logger:      m.context.logger,
		commandPool: mocks.NewDummyCommandPool(device),
	}

	return m
}

// Type 0 is device local, type 1 is host visible and coherent.
var testMemoryProperties = &core1_0.PhysicalDeviceMemoryProperties{
	MemoryTypes: []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
	},
}

func (m *mockDevice) expectMemoryProperties() {
	m.instance.EXPECT().GetPhysicalDeviceMemoryProperties(m.context.physicalDevice).Return(testMemoryProperties).AnyTimes()
}

// expectBuffer expects one buffer of size bytes to be created and bound to memory of the
// given type.
func (m *mockDevice) expectBuffer(size int, usage core1_0.BufferUsageFlags, memoryType int) (core1_0.Buffer, core1_0.DeviceMemory) {
	buffer := mocks.NewDummyBuffer(m.device)
	memory := mocks.NewDummyDeviceMemory(m.device, size)

	m.driver.EXPECT().CreateBuffer(gomock.Nil(), core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	}).Return(buffer, core1_0.VKSuccess, nil)
	m.driver.EXPECT().GetBufferMemoryRequirements(buffer).Return(&core1_0.MemoryRequirements{
		Size:           size,
		MemoryTypeBits: 0x3,
	})
	m.driver.EXPECT().AllocateMemory(gomock.Nil(), core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryType,
	}).Return(memory, core1_0.VKSuccess, nil)
	m.driver.EXPECT().BindBufferMemory(buffer, memory, 0).Return(core1_0.VKSuccess, nil)

	return buffer, memory
}

type oneShotCalls struct {
	buffer core1_0.CommandBuffer
	begin  *gomock.Call
	end    *gomock.Call
	free   *gomock.Call
}

// expectOneShot expects a throwaway command buffer to be allocated, begun, ended, submitted,
// waited on and freed, in that order. Commands recorded into it go between begin and end.
// A non-nil submitErr fails the submit, after which only the free is expected.
func (m *mockDevice) expectOneShot(submitErr error) oneShotCalls {
	buffer := mocks.NewDummyCommandBuffer(m.factory.commandPool, m.device)
	calls := oneShotCalls{buffer: buffer}

	allocate := m.driver.EXPECT().AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        m.factory.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}).Return([]core1_0.CommandBuffer{buffer}, core1_0.VKSuccess, nil)
	calls.begin = m.driver.EXPECT().BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	}).Return(core1_0.VKSuccess, nil)
	calls.end = m.driver.EXPECT().EndCommandBuffer(buffer).Return(core1_0.VKSuccess, nil)
	submit := m.driver.EXPECT().QueueSubmit(m.queue, gomock.Nil(), core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{buffer},
	})
	calls.free = m.driver.EXPECT().FreeCommandBuffers(buffer)

	if submitErr != nil {
		submit.Return(core1_0.VKErrorDeviceLost, submitErr)
		gomock.InOrder(allocate, calls.begin, calls.end, submit, calls.free)
		return calls
	}

	submit.Return(core1_0.VKSuccess, nil)
	waitIdle := m.driver.EXPECT().QueueWaitIdle(m.queue).Return(core1_0.VKSuccess, nil)
	gomock.InOrder(allocate, calls.begin, calls.end, submit, waitIdle, calls.free)
	return calls
}

// between orders call after the one-shot's begin and before its end.
func (c oneShotCalls) between(call *gomock.Call) *gomock.Call {
	call.After(c.begin)
	c.end.After(call)
	return call
}

type eventLog []string

func (l *eventLog) add(event string) {
	*l = append(*l, event)
}

// requireOrder checks that the first occurrence of each event comes in the given order.
func requireOrder(t *testing.T, events eventLog, ordered ...string) {
	t.Helper()

	last := -1
	for _, event := range ordered {
		index := slices.Index(events, event)
		require.Greater(t, index, last, "%q out of order in %v", event, events)
		last = index
	}
}

type testWindow struct {
	width, height int
}

func (w *testWindow) VulkanProcAddr() unsafe.Pointer { return nil }
func (w *testWindow) VulkanInstanceExtensions() []string { return nil }
func (w *testWindow) DrawableSize() (int, int) { return w.width, w.height }

func (w *testWindow) CreateSurface(core1_0.Instance, khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	return khr_surface.Surface{}, errors.New("no surface without a window system")
}

// fakeSurfaceDriver answers surface queries from fixed values.
type fakeSurfaceDriver struct {
	khr_surface.ExtensionDriver

	supported    bool
	capabilities khr_surface.SurfaceCapabilities
	formats      []khr_surface.SurfaceFormat
	presentModes []khr_surface.PresentMode
}

func (d *fakeSurfaceDriver) GetPhysicalDeviceSurfaceSupport(khr_surface.Surface, core1_0.PhysicalDevice, int) (bool, common.VkResult, error) {
	return d.supported, core1_0.VKSuccess, nil
}

func (d *fakeSurfaceDriver) GetPhysicalDeviceSurfaceCapabilities(khr_surface.Surface, core1_0.PhysicalDevice) (*khr_surface.SurfaceCapabilities, common.VkResult, error) {
	capabilities := d.capabilities
	return &capabilities, core1_0.VKSuccess, nil
}

func (d *fakeSurfaceDriver) GetPhysicalDeviceSurfaceFormats(khr_surface.Surface, core1_0.PhysicalDevice) ([]khr_surface.SurfaceFormat, common.VkResult, error) {
	return d.formats, core1_0.VKSuccess, nil
}

func (d *fakeSurfaceDriver) GetPhysicalDeviceSurfacePresentModes(khr_surface.Surface, core1_0.PhysicalDevice) ([]khr_surface.PresentMode, common.VkResult, error) {
	return d.presentModes, core1_0.VKSuccess, nil
}

// fakeSwapchainDriver hands out dummy swapchains with imageCount images each.
type fakeSwapchainDriver struct {
	khr_swapchain.ExtensionDriver

	device     core1_0.Device
	imageCount int
	events     *eventLog
	created    []khr_swapchain.SwapchainCreateInfo
}

func (d *fakeSwapchainDriver) CreateSwapchain(_ *loader.AllocationCallbacks, options khr_swapchain.SwapchainCreateInfo) (khr_swapchain.Swapchain, common.VkResult, error) {
	d.events.add("create swapchain")
	d.created = append(d.created, options)
	return khr_swapchain.NewDummySwapchain(d.device), core1_0.VKSuccess, nil
}

func (d *fakeSwapchainDriver) DestroySwapchain(khr_swapchain.Swapchain, *loader.AllocationCallbacks) {
	d.events.add("destroy swapchain")
}

func (d *fakeSwapchainDriver) GetSwapchainImages(khr_swapchain.Swapchain) ([]core1_0.Image, common.VkResult, error) {
	images := make([]core1_0.Image, d.imageCount)
	for i := range images {
		images[i] = mocks.NewDummyImage(d.device)
	}
	return images, core1_0.VKSuccess, nil
}
