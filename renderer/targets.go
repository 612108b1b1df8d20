package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// RenderTargetSet is the render pass and everything it draws into for one swapchain: the
// multisampled color target, the depth target and a framebuffer per swapchain image.
type RenderTargetSet struct {
	device    *DeviceContext
	factory   *ResourceFactory
	swapchain *SwapchainManager

	renderPass   core1_0.RenderPass
	color        *Image
	depth        *Image
	framebuffers []core1_0.Framebuffer
}

func NewRenderTargetSet(device *DeviceContext, factory *ResourceFactory, swapchain *SwapchainManager) (*RenderTargetSet, error) {
	t := &RenderTargetSet{
		device:    device,
		factory:   factory,
		swapchain: swapchain,
	}
	swapchain.AddDependent()

	err := t.createRenderPass()
	if err == nil {
		err = t.createColorResources()
	}
	if err == nil {
		err = t.createDepthResources()
	}
	if err == nil {
		err = t.createFramebuffers()
	}
	if err != nil {
		t.Destroy()
		return nil, err
	}

	return t, nil
}

func (t *RenderTargetSet) createRenderPass() error {
	samples := t.device.msaaSamples
	colorFormat := t.swapchain.Format()

	renderPass, _, err := t.device.deviceDriver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         colorFormat,
				Samples:        samples,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
			},
			{
				Format:         t.device.depthFormat,
				Samples:        samples,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
			{
				Format:         colorFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpDontCare,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				ResolveAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 2,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating render pass")
	}

	t.renderPass = renderPass
	return nil
}

func (t *RenderTargetSet) createColorResources() error {
	extent := t.swapchain.Extent()

	var err error
	t.color, err = t.factory.CreateImage(ImageOptions{
		Width:      extent.Width,
		Height:     extent.Height,
		MipLevels:  1,
		Samples:    t.device.msaaSamples,
		Format:     t.swapchain.Format(),
		Tiling:     core1_0.ImageTilingOptimal,
		Usage:      core1_0.ImageUsageTransientAttachment | core1_0.ImageUsageColorAttachment,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Aspect:     core1_0.ImageAspectColor,
	})
	return err
}

func (t *RenderTargetSet) createDepthResources() error {
	extent := t.swapchain.Extent()

	var err error
	t.depth, err = t.factory.CreateImage(ImageOptions{
		Width:      extent.Width,
		Height:     extent.Height,
		MipLevels:  1,
		Samples:    t.device.msaaSamples,
		Format:     t.device.depthFormat,
		Tiling:     core1_0.ImageTilingOptimal,
		Usage:      core1_0.ImageUsageDepthStencilAttachment,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Aspect:     core1_0.ImageAspectDepth,
	})
	if err != nil {
		return err
	}

	return t.factory.TransitionImageLayout(t.depth, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutDepthStencilAttachmentOptimal)
}

func (t *RenderTargetSet) createFramebuffers() error {
	extent := t.swapchain.Extent()

	for _, imageView := range t.swapchain.ImageViews() {
		framebuffer, _, err := t.device.deviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass: t.renderPass,
			Layers:     1,
			Attachments: []core1_0.ImageView{
				t.color.View,
				t.depth.View,
				imageView,
			},
			Width:  extent.Width,
			Height: extent.Height,
		})
		if err != nil {
			return err
		}

		t.framebuffers = append(t.framebuffers, framebuffer)
	}

	return nil
}

func (t *RenderTargetSet) RenderPass() core1_0.RenderPass { return t.renderPass }

func (t *RenderTargetSet) Framebuffer(image int) core1_0.Framebuffer {
	return t.framebuffers[image]
}

func (t *RenderTargetSet) Destroy() {
	driver := t.device.deviceDriver
	for _, framebuffer := range t.framebuffers {
		driver.DestroyFramebuffer(framebuffer, nil)
	}
	t.framebuffers = nil

	t.factory.DestroyImage(t.depth)
	t.depth = nil
	t.factory.DestroyImage(t.color)
	t.color = nil

	if t.renderPass.Initialized() {
		driver.DestroyRenderPass(t.renderPass, nil)
		t.renderPass = core1_0.RenderPass{}
	}

	if t.swapchain != nil {
		t.swapchain.RemoveDependent()
		t.swapchain = nil
	}
}
