package renderer

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"go.uber.org/mock/gomock"
)

// allowSwapchainScope accepts every driver call a swapchain rebuild makes and logs the ones
// whose order matters.
func (m *mockDevice) allowSwapchainScope(events *eventLog) {
	device := m.device
	driver := m.driver.EXPECT()
	m.expectMemoryProperties()

	driver.CreateImageView(gomock.Any(), gomock.Any()).Return(mocks.NewDummyImageView(device), core1_0.VKSuccess, nil).AnyTimes()
	driver.DestroyImageView(gomock.Any(), gomock.Any()).AnyTimes()
	driver.CreateRenderPass(gomock.Any(), gomock.Any()).
		DoAndReturn(func(*loader.AllocationCallbacks, core1_0.RenderPassCreateInfo) (core1_0.RenderPass, common.VkResult, error) {
			events.add("create render pass")
			return mocks.NewDummyRenderPass(device), core1_0.VKSuccess, nil
		}).AnyTimes()

	driver.CreateImage(gomock.Any(), gomock.Any()).Return(mocks.NewDummyImage(device), core1_0.VKSuccess, nil).AnyTimes()
	driver.GetImageMemoryRequirements(gomock.Any()).Return(&core1_0.MemoryRequirements{Size: 64, MemoryTypeBits: 0x3}).AnyTimes()
	driver.BindImageMemory(gomock.Any(), gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	driver.CreateBuffer(gomock.Any(), gomock.Any()).Return(mocks.NewDummyBuffer(device), core1_0.VKSuccess, nil).AnyTimes()
	driver.GetBufferMemoryRequirements(gomock.Any()).Return(&core1_0.MemoryRequirements{Size: uniformBufferSize, MemoryTypeBits: 0x3}).AnyTimes()
	driver.BindBufferMemory(gomock.Any(), gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	driver.AllocateMemory(gomock.Any(), gomock.Any()).Return(mocks.NewDummyDeviceMemory(device, 64), core1_0.VKSuccess, nil).AnyTimes()

	driver.AllocateCommandBuffers(gomock.Any()).
		DoAndReturn(func(o core1_0.CommandBufferAllocateInfo) ([]core1_0.CommandBuffer, common.VkResult, error) {
			events.add(fmt.Sprintf("allocate %d command buffers", o.CommandBufferCount))
			buffers := make([]core1_0.CommandBuffer, o.CommandBufferCount)
			for i := range buffers {
				buffers[i] = mocks.NewDummyCommandBuffer(o.CommandPool, device)
			}
			return buffers, core1_0.VKSuccess, nil
		}).AnyTimes()
	driver.BeginCommandBuffer(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	driver.CmdPipelineBarrier(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	driver.EndCommandBuffer(gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	driver.QueueSubmit(gomock.Any(), gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	driver.QueueWaitIdle(gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	driver.FreeCommandBuffers(gomock.Any()).AnyTimes()

	driver.CreateFramebuffer(gomock.Any(), gomock.Any()).Return(mocks.NewDummyFramebuffer(device), core1_0.VKSuccess, nil).AnyTimes()
	driver.CreateShaderModule(gomock.Any(), gomock.Any()).Return(mocks.NewDummyShaderModule(device), core1_0.VKSuccess, nil).AnyTimes()
	driver.DestroyShaderModule(gomock.Any(), gomock.Any()).AnyTimes()
	driver.CreatePipelineLayout(gomock.Any(), gomock.Any()).Return(mocks.NewDummyPipelineLayout(device), core1_0.VKSuccess, nil).AnyTimes()
	driver.CreateGraphicsPipelines(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]core1_0.Pipeline{mocks.NewDummyPipeline(device)}, core1_0.VKSuccess, nil).AnyTimes()

	driver.CreateDescriptorPool(gomock.Any(), gomock.Any()).Return(mocks.NewDummyDescriptorPool(device), core1_0.VKSuccess, nil).AnyTimes()
	driver.AllocateDescriptorSets(gomock.Any()).
		DoAndReturn(func(o core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error) {
			sets := make([]core1_0.DescriptorSet, len(o.SetLayouts))
			for i := range sets {
				sets[i] = mocks.NewDummyDescriptorSet(o.DescriptorPool, device)
			}
			return sets, core1_0.VKSuccess, nil
		}).AnyTimes()
	driver.UpdateDescriptorSets(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	driver.CreateSemaphore(gomock.Any(), gomock.Any()).
		DoAndReturn(func(*loader.AllocationCallbacks, core1_0.SemaphoreCreateInfo) (core1_0.Semaphore, common.VkResult, error) {
			events.add("create semaphore")
			return mocks.NewDummySemaphore(device), core1_0.VKSuccess, nil
		}).AnyTimes()
	driver.DestroySemaphore(gomock.Any(), gomock.Any()).AnyTimes()
}

// newRebuildRenderer returns a renderer whose current swapchain has two images and two
// registered dependents, as after the first build.
func newRebuildRenderer(gpu *mockDevice, events *eventLog) (*Renderer, *fakeSwapchainDriver) {
	device := gpu.device
	window := &testWindow{width: 1024, height: 768}

	gpu.context.surfaceDriver = &fakeSurfaceDriver{
		supported: true,
		capabilities: khr_surface.SurfaceCapabilities{
			MinImageCount:  2,
			CurrentExtent:  core1_0.Extent2D{Width: 1024, Height: 768},
			MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
		},
		formats: []khr_surface.SurfaceFormat{
			{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
		},
		presentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO},
	}

	swapchainDriver := &fakeSwapchainDriver{device: device, imageCount: 3, events: events}
	swapchain := &SwapchainManager{
		device:     gpu.context,
		window:     window,
		logger:     gpu.context.logger,
		driver:     swapchainDriver,
		swapchain:  khr_swapchain.NewDummySwapchain(device),
		images:     []core1_0.Image{mocks.NewDummyImage(device), mocks.NewDummyImage(device)},
		imageViews: []core1_0.ImageView{mocks.NewDummyImageView(device), mocks.NewDummyImageView(device)},
		format:     core1_0.FormatB8G8R8A8SRGB,
		extent:     core1_0.Extent2D{Width: 800, Height: 600},
	}
	swapchain.AddDependent()
	swapchain.AddDependent()

	r := &Renderer{
		config:    gpu.context.config,
		logger:    gpu.context.logger,
		window:    window,
		device:    gpu.context,
		factory:   gpu.factory,
		swapchain: swapchain,
		syncObjects: &syncObjects{
			driver:         gpu.driver,
			imageAvailable: []core1_0.Semaphore{mocks.NewDummySemaphore(device), mocks.NewDummySemaphore(device)},
			renderFinished: []core1_0.Semaphore{mocks.NewDummySemaphore(device), mocks.NewDummySemaphore(device)},
			inFlight:       []core1_0.Fence{mocks.NewDummyFence(device), mocks.NewDummyFence(device)},
		},
		shaders: ShaderSource{
			Vertex:   []byte{0x03, 0x02, 0x23, 0x07},
			Fragment: []byte{0x03, 0x02, 0x23, 0x07},
		},
		descriptorSetLayout: mocks.NewDummyDescriptorSetLayout(device),
		texture:             &Image{View: mocks.NewDummyImageView(device), MipLevels: 1},
		sampler:             mocks.NewDummySampler(device),
		indexCount:          36,
	}

	return r, swapchainDriver
}

func TestRendererRecreate_EmptyDrawableDefers(t *testing.T) {
	r := &Renderer{logger: discardLogger(), window: &testWindow{}}
	r.scoped.push("render targets", func() { t.Fatal("swapchain scope released while minimized") })

	imageCount, err := r.Recreate()
	require.NoError(t, err)
	require.Equal(t, 0, imageCount)
	require.Equal(t, 1, r.scoped.len())
}

func TestRendererRecreate_WaitIdleFailureKeepsScope(t *testing.T) {
	gpu := newMockDevice(t)
	var events eventLog
	r, _ := newRebuildRenderer(gpu, &events)
	r.scoped.push("render targets", func() { t.Fatal("swapchain scope released before the device was idle") })

	idleErr := errors.New("device lost")
	gpu.driver.EXPECT().DeviceWaitIdle().Return(core1_0.VKErrorDeviceLost, idleErr)

	imageCount, err := r.Recreate()
	require.ErrorIs(t, err, idleErr)
	require.Equal(t, 0, imageCount)
	require.Equal(t, 1, r.scoped.len())
	require.Empty(t, events)
}

func TestRendererRecreate_RefusesRebuildWithLiveDependents(t *testing.T) {
	gpu := newMockDevice(t)
	var events eventLog
	r, _ := newRebuildRenderer(gpu, &events)
	r.scoped.push("render targets", r.swapchain.RemoveDependent)

	gpu.driver.EXPECT().DeviceWaitIdle().Return(core1_0.VKSuccess, nil)

	_, err := r.Recreate()
	require.True(t, errors.HasAssertionFailure(err))
	require.Equal(t, 1, r.swapchain.dependents)
	require.Equal(t, 2, r.swapchain.ImageCount())
	require.Empty(t, events)
}

func TestRendererRecreate_RebuildOrder(t *testing.T) {
	gpu := newMockDevice(t)
	var events eventLog
	r, swapchainDriver := newRebuildRenderer(gpu, &events)
	r.scoped.push("previous swapchain scope", func() {
		events.add("release scope")
		r.swapchain.RemoveDependent()
		r.swapchain.RemoveDependent()
	})

	oldImageAvailable := append([]core1_0.Semaphore(nil), r.syncObjects.imageAvailable...)
	oldRenderFinished := append([]core1_0.Semaphore(nil), r.syncObjects.renderFinished...)

	gpu.driver.EXPECT().DeviceWaitIdle().DoAndReturn(func() (common.VkResult, error) {
		events.add("device idle")
		return core1_0.VKSuccess, nil
	})
	gpu.allowSwapchainScope(&events)

	imageCount, err := r.Recreate()
	require.NoError(t, err)
	require.Equal(t, 3, imageCount)

	requireOrder(t, events,
		"device idle",
		"release scope",
		"destroy swapchain",
		"create swapchain",
		"create render pass",
		"allocate 3 command buffers",
		"create semaphore",
	)

	require.Len(t, swapchainDriver.created, 1)
	require.Equal(t, 3, swapchainDriver.created[0].MinImageCount)
	require.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, r.swapchain.Extent())
	require.Equal(t, 3, r.swapchain.ImageCount())
	require.Equal(t, 2, r.swapchain.dependents)

	require.Equal(t, 5, r.scoped.len())
	require.Len(t, r.uniformBuffers, 3)
	require.Len(t, r.descriptorSets, 3)
	require.Len(t, r.commandBuffers, 3)
	require.Equal(t, []bool{false, false, false}, r.recorded)

	for slot := range oldImageAvailable {
		require.NotEqual(t, oldImageAvailable[slot], r.syncObjects.imageAvailable[slot])
		require.NotEqual(t, oldRenderFinished[slot], r.syncObjects.renderFinished[slot])
	}
}

func TestRendererRecord_ReusesRecordingUntilRecreate(t *testing.T) {
	gpu := newMockDevice(t)
	device := gpu.device
	buffer := mocks.NewDummyCommandBuffer(gpu.factory.commandPool, device)

	r := &Renderer{
		config:    DefaultConfig(),
		logger:    discardLogger(),
		device:    gpu.context,
		swapchain: &SwapchainManager{extent: core1_0.Extent2D{Width: 800, Height: 600}},
		targets: &RenderTargetSet{
			renderPass:   mocks.NewDummyRenderPass(device),
			framebuffers: []core1_0.Framebuffer{mocks.NewDummyFramebuffer(device)},
		},
		pipeline: &Pipeline{
			layout:   mocks.NewDummyPipelineLayout(device),
			pipeline: mocks.NewDummyPipeline(device),
		},
		vertexBuffer:   &Buffer{Buffer: mocks.NewDummyBuffer(device)},
		indexBuffer:    &Buffer{Buffer: mocks.NewDummyBuffer(device)},
		indexCount:     36,
		descriptorSets: []core1_0.DescriptorSet{mocks.NewDummyDescriptorSet(mocks.NewDummyDescriptorPool(device), device)},
		commandBuffers: []core1_0.CommandBuffer{buffer},
		recorded:       []bool{false},
	}

	driver := gpu.driver.EXPECT()
	gomock.InOrder(
		driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{}).Return(core1_0.VKSuccess, nil),
		driver.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline, gomock.Any()).Return(nil),
		driver.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, r.pipeline.pipeline),
		driver.CmdBindVertexBuffers(buffer, 0, []core1_0.Buffer{r.vertexBuffer.Buffer}, []int{0}),
		driver.CmdBindIndexBuffer(buffer, r.indexBuffer.Buffer, 0, core1_0.IndexTypeUInt32),
		driver.CmdBindDescriptorSets(buffer, core1_0.PipelineBindPointGraphics, r.pipeline.layout, 0, r.descriptorSets, gomock.Nil()),
		driver.CmdDrawIndexed(buffer, 36, 1, uint32(0), 0, uint32(0)),
		driver.CmdEndRenderPass(buffer),
		driver.EndCommandBuffer(buffer).Return(core1_0.VKSuccess, nil),
	)

	require.NoError(t, r.Record(0))
	require.NoError(t, r.Record(0))
	require.Equal(t, []bool{true}, r.recorded)
}

func TestRendererRecord_FailedRecordingIsRetried(t *testing.T) {
	gpu := newMockDevice(t)
	buffer := mocks.NewDummyCommandBuffer(gpu.factory.commandPool, gpu.device)
	r := &Renderer{
		device:         gpu.context,
		commandBuffers: []core1_0.CommandBuffer{buffer},
		recorded:       []bool{false},
	}

	beginErr := errors.New("out of device memory")
	gpu.driver.EXPECT().BeginCommandBuffer(buffer, gomock.Any()).Return(core1_0.VKErrorOutOfDeviceMemory, beginErr).Times(2)

	require.ErrorIs(t, r.Record(0), beginErr)
	require.ErrorIs(t, r.Record(0), beginErr)
	require.Equal(t, []bool{false}, r.recorded)
}

func TestRendererDeviceName(t *testing.T) {
	gpu := newMockDevice(t)
	r := &Renderer{device: gpu.context}
	require.Equal(t, "mock device", r.DeviceName())
}
