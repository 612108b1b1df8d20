package renderer

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/vulkan-viewer/mesh"
	"github.com/vkngwrapper/vulkan-viewer/texture"
)

// Scene is everything the renderer draws: one textured mesh and its shaders.
type Scene struct {
	Mesh    mesh.Mesh
	Texture *texture.Image
	Shaders ShaderSource
}

// Renderer draws a Scene into a window. It implements FrameBackend on top of Vulkan and
// drives it with a FrameOrchestrator.
type Renderer struct {
	config Config
	logger *slog.Logger
	window Window
	clock  func() float64

	device      *DeviceContext
	factory     *ResourceFactory
	swapchain   *SwapchainManager
	syncObjects *syncObjects
	frames      *FrameOrchestrator

	// persistent lives as long as the renderer; scoped is rebuilt with the swapchain.
	persistent releaseStack
	scoped     releaseStack

	shaders             ShaderSource
	descriptorSetLayout core1_0.DescriptorSetLayout
	texture             *Image
	sampler             core1_0.Sampler
	vertexBuffer        *Buffer
	indexBuffer         *Buffer
	indexCount          int

	targets        *RenderTargetSet
	pipeline       *Pipeline
	uniformBuffers []*Buffer
	descriptorPool core1_0.DescriptorPool
	descriptorSets []core1_0.DescriptorSet
	commandBuffers []core1_0.CommandBuffer
	recorded       []bool
}

var _ FrameBackend = (*Renderer)(nil)

func New(config Config, window Window, scene Scene) (*Renderer, error) {
	if len(scene.Mesh.Indices) == 0 {
		return nil, errors.New("scene mesh has no triangles")
	}
	if scene.Texture == nil {
		return nil, errors.New("scene has no texture")
	}

	r := &Renderer{
		config:     config,
		logger:     config.logger(),
		window:     window,
		clock:      func() float64 { return hrtime.Now().Seconds() },
		shaders:    scene.Shaders,
		indexCount: len(scene.Mesh.Indices),
	}

	err := r.init(scene)
	if err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func (r *Renderer) init(scene Scene) error {
	var err error

	r.device, err = NewDeviceContext(r.config, r.window)
	if err != nil {
		return err
	}
	r.persistent.push("device context", r.device.Destroy)

	r.factory, err = NewResourceFactory(r.device)
	if err != nil {
		return err
	}
	r.persistent.push("command pool", r.factory.Destroy)

	r.swapchain, err = NewSwapchainManager(r.device, r.window)
	if err != nil {
		return err
	}
	r.persistent.push("swapchain", r.swapchain.Destroy)

	r.descriptorSetLayout, err = createDescriptorSetLayout(r.device.deviceDriver)
	if err != nil {
		return err
	}
	r.persistent.push("descriptor set layout", func() {
		r.device.deviceDriver.DestroyDescriptorSetLayout(r.descriptorSetLayout, nil)
	})

	r.texture, err = r.factory.UploadTexture(scene.Texture.Pixels, scene.Texture.Width, scene.Texture.Height)
	if err != nil {
		return err
	}
	r.persistent.push("texture", func() { r.factory.DestroyImage(r.texture) })

	err = r.createSampler()
	if err != nil {
		return err
	}
	r.persistent.push("sampler", func() { r.device.deviceDriver.DestroySampler(r.sampler, nil) })

	r.vertexBuffer, err = r.factory.UploadBuffer(scene.Mesh.Vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return errors.Wrap(err, "uploading vertices")
	}
	r.persistent.push("vertex buffer", func() { r.factory.DestroyBuffer(r.vertexBuffer) })

	r.indexBuffer, err = r.factory.UploadBuffer(scene.Mesh.Indices, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		return errors.Wrap(err, "uploading indices")
	}
	r.persistent.push("index buffer", func() { r.factory.DestroyBuffer(r.indexBuffer) })

	r.syncObjects, err = newSyncObjects(r.device.deviceDriver, MaxFramesInFlight)
	if err != nil {
		return err
	}
	r.persistent.push("sync objects", r.syncObjects.destroy)

	err = r.buildSwapchainScope()
	if err != nil {
		return err
	}

	syncSet := NewSyncSet(r.syncObjects, MaxFramesInFlight, r.swapchain.ImageCount())
	r.frames = NewFrameOrchestrator(r, syncSet, r.logger)

	r.logger.Info("renderer ready",
		"vertices", len(scene.Mesh.Vertices),
		"triangles", scene.Mesh.TriangleCount(),
		"textureMipLevels", r.texture.MipLevels,
	)
	return nil
}

func (r *Renderer) createSampler() error {
	properties, err := r.device.instanceDriver.GetPhysicalDeviceProperties(r.device.physicalDevice)
	if err != nil {
		return err
	}

	r.sampler, _, err = r.device.deviceDriver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: true,
		MaxAnisotropy:    properties.Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     float32(r.texture.MipLevels),
	})
	if err != nil {
		return errors.Wrap(err, "creating sampler")
	}
	return nil
}

// buildSwapchainScope creates everything whose size or count follows the swapchain.
func (r *Renderer) buildSwapchainScope() error {
	var err error
	driver := r.device.deviceDriver
	imageCount := r.swapchain.ImageCount()

	r.targets, err = NewRenderTargetSet(r.device, r.factory, r.swapchain)
	if err != nil {
		return err
	}
	r.scoped.push("render targets", func() {
		r.targets.Destroy()
		r.targets = nil
	})

	r.pipeline, err = NewPipeline(r.device, r.swapchain, r.targets, r.descriptorSetLayout, r.shaders)
	if err != nil {
		return err
	}
	r.scoped.push("pipeline", func() {
		r.pipeline.Destroy()
		r.pipeline = nil
	})

	r.scoped.push("uniform buffers", func() {
		for _, buffer := range r.uniformBuffers {
			r.factory.DestroyBuffer(buffer)
		}
		r.uniformBuffers = nil
	})
	for i := 0; i < imageCount; i++ {
		buffer, err := r.factory.CreateBuffer(uniformBufferSize, core1_0.BufferUsageUniformBuffer, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
		if err != nil {
			return err
		}
		r.uniformBuffers = append(r.uniformBuffers, buffer)
	}

	r.descriptorPool, _, err = driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: imageCount,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: imageCount,
			},
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: imageCount,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating descriptor pool")
	}
	r.scoped.push("descriptor pool", func() {
		driver.DestroyDescriptorPool(r.descriptorPool, nil)
		r.descriptorPool = core1_0.DescriptorPool{}
		r.descriptorSets = nil
	})

	err = r.createDescriptorSets(imageCount)
	if err != nil {
		return err
	}

	r.commandBuffers, _, err = driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        r.factory.CommandPool(),
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: imageCount,
	})
	if err != nil {
		return errors.Wrap(err, "allocating command buffers")
	}
	r.recorded = make([]bool, imageCount)
	r.scoped.push("command buffers", func() {
		driver.FreeCommandBuffers(r.commandBuffers...)
		r.commandBuffers = nil
		r.recorded = nil
	})

	return nil
}

func (r *Renderer) createDescriptorSets(imageCount int) error {
	var allocLayouts []core1_0.DescriptorSetLayout
	for i := 0; i < imageCount; i++ {
		allocLayouts = append(allocLayouts, r.descriptorSetLayout)
	}

	var err error
	driver := r.device.deviceDriver
	r.descriptorSets, _, err = driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: r.descriptorPool,
		SetLayouts:     allocLayouts,
	})
	if err != nil {
		return errors.Wrap(err, "allocating descriptor sets")
	}

	for i := 0; i < imageCount; i++ {
		err = driver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
			{
				DstSet:          r.descriptorSets[i],
				DstBinding:      0,
				DstArrayElement: 0,

				DescriptorType: core1_0.DescriptorTypeUniformBuffer,

				BufferInfo: []core1_0.DescriptorBufferInfo{
					{
						Buffer: r.uniformBuffers[i].Buffer,
						Offset: 0,
						Range:  uniformBufferSize,
					},
				},
			},
			{
				DstSet:          r.descriptorSets[i],
				DstBinding:      1,
				DstArrayElement: 0,

				DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,

				ImageInfo: []core1_0.DescriptorImageInfo{
					{
						ImageView:   r.texture.View,
						Sampler:     r.sampler,
						ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
					},
				},
			},
		}, nil)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Renderer) AcquireImage(slot int) (int, SurfaceStatus, error) {
	return r.swapchain.AcquireNextImage(r.syncObjects.imageAvailable[slot])
}

func (r *Renderer) UpdateUniforms(image int) error {
	ubo := computeTransforms(r.clock(), r.swapchain.Extent())
	return r.factory.WriteBuffer(r.uniformBuffers[image], 0, &ubo)
}

// Record fills image's command buffer once per swapchain build. Later calls for the same
// image reuse that recording until Recreate frees the command buffers.
func (r *Renderer) Record(image int) error {
	if r.recorded[image] {
		return nil
	}

	driver := r.device.deviceDriver
	buffer := r.commandBuffers[image]
	clearColor := r.config.ClearColor

	_, err := driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return err
	}

	err = driver.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  r.targets.RenderPass(),
			Framebuffer: r.targets.Framebuffer(image),
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: r.swapchain.Extent(),
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{clearColor[0], clearColor[1], clearColor[2], clearColor[3]},
				core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
			},
		})
	if err != nil {
		return err
	}

	driver.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, r.pipeline.Pipeline())
	driver.CmdBindVertexBuffers(buffer, 0, []core1_0.Buffer{r.vertexBuffer.Buffer}, []int{0})
	driver.CmdBindIndexBuffer(buffer, r.indexBuffer.Buffer, 0, core1_0.IndexTypeUInt32)
	driver.CmdBindDescriptorSets(buffer, core1_0.PipelineBindPointGraphics, r.pipeline.Layout(), 0, []core1_0.DescriptorSet{
		r.descriptorSets[image],
	}, nil)
	driver.CmdDrawIndexed(buffer, r.indexCount, 1, 0, 0, 0)
	driver.CmdEndRenderPass(buffer)

	_, err = driver.EndCommandBuffer(buffer)
	if err != nil {
		return err
	}

	r.recorded[image] = true
	return nil
}

func (r *Renderer) Submit(slot int, image int) error {
	_, err := r.device.deviceDriver.QueueSubmit(r.device.graphicsQueue, &r.syncObjects.inFlight[slot],
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{r.syncObjects.imageAvailable[slot]},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{r.commandBuffers[image]},
			SignalSemaphores: []core1_0.Semaphore{r.syncObjects.renderFinished[slot]},
		},
	)
	return err
}

func (r *Renderer) Present(slot int, image int) (SurfaceStatus, error) {
	status, err := r.swapchain.Present(r.device.presentQueue, r.syncObjects.renderFinished[slot], image)
	if err != nil {
		return status, err
	}

	_, err = r.device.deviceDriver.QueueWaitIdle(r.device.presentQueue)
	return status, err
}

// Recreate tears down and rebuilds every swapchain-dependent object. It does nothing and
// returns 0 while the drawable is empty.
func (r *Renderer) Recreate() (int, error) {
	width, height := r.window.DrawableSize()
	if width == 0 || height == 0 {
		r.logger.Debug("drawable is empty, deferring swapchain rebuild")
		return 0, nil
	}

	err := r.device.WaitIdle()
	if err != nil {
		return 0, err
	}

	r.scoped.release(r.logger)

	err = r.swapchain.Rebuild()
	if err != nil {
		return 0, err
	}

	err = r.buildSwapchainScope()
	if err != nil {
		return 0, err
	}

	err = r.syncObjects.refreshSemaphores()
	if err != nil {
		return 0, err
	}

	return r.swapchain.ImageCount(), nil
}

// DrawFrame renders and presents one frame, rebuilding the swapchain when needed.
func (r *Renderer) DrawFrame() error {
	outcome, err := r.frames.DrawFrame()
	if err != nil {
		return err
	}
	if outcome != FramePresented {
		r.logger.Debug("frame", "outcome", outcome)
	}
	return nil
}

// NotifyResized tells the renderer the window's drawable size changed.
func (r *Renderer) NotifyResized() {
	if r.frames != nil {
		r.frames.NotifyResized()
	}
}

// DeviceName is the name the driver reports for the selected physical device.
func (r *Renderer) DeviceName() string { return r.device.DeviceName() }

// Close waits for the GPU and releases everything in reverse creation order.
func (r *Renderer) Close() {
	if r.device != nil && r.device.deviceDriver != nil {
		err := r.device.WaitIdle()
		if err != nil {
			r.logger.Warn("waiting for device idle before teardown", "error", err)
		}
	}

	r.scoped.release(r.logger)
	r.persistent.release(r.logger)
	r.device = nil
}
