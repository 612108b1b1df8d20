package renderer

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/vulkan-viewer/mesh"
)

// ShaderSource is the SPIR-V for the vertex and fragment stages.
type ShaderSource struct {
	Vertex   []byte
	Fragment []byte
}

// bytesToBytecode packs little-endian SPIR-V bytes into words.
func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("spir-v module of %d bytes is not a whole number of words", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode, nil
}

func vertexBindingDescriptions() []core1_0.VertexInputBindingDescription {
	v := mesh.Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := mesh.Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
	}
}

// createDescriptorSetLayout describes binding 0 as the vertex-stage uniform buffer and
// binding 1 as the fragment-stage texture sampler.
func createDescriptorSetLayout(driver core1_0.CoreDeviceDriver) (core1_0.DescriptorSetLayout, error) {
	layout, _, err := driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,

				StageFlags: core1_0.StageVertex,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,

				StageFlags: core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		return core1_0.DescriptorSetLayout{}, errors.Wrap(err, "creating descriptor set layout")
	}
	return layout, nil
}

// Pipeline is the graphics pipeline and its layout. The viewport is baked in, so it is
// rebuilt with the swapchain.
type Pipeline struct {
	device    *DeviceContext
	swapchain *SwapchainManager

	layout   core1_0.PipelineLayout
	pipeline core1_0.Pipeline
}

func NewPipeline(device *DeviceContext, swapchain *SwapchainManager, targets *RenderTargetSet, descriptorSetLayout core1_0.DescriptorSetLayout, shaders ShaderSource) (*Pipeline, error) {
	p := &Pipeline{
		device:    device,
		swapchain: swapchain,
	}
	swapchain.AddDependent()

	err := p.build(targets.RenderPass(), descriptorSetLayout, shaders)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) createShaderModule(code []byte) (core1_0.ShaderModule, error) {
	byteCode, err := bytesToBytecode(code)
	if err != nil {
		return core1_0.ShaderModule{}, err
	}

	module, _, err := p.device.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: byteCode,
	})
	return module, err
}

func (p *Pipeline) build(renderPass core1_0.RenderPass, descriptorSetLayout core1_0.DescriptorSetLayout, shaders ShaderSource) error {
	driver := p.device.deviceDriver
	extent := p.swapchain.Extent()

	vertShader, err := p.createShaderModule(shaders.Vertex)
	if err != nil {
		return errors.Wrap(err, "vertex shader")
	}
	defer driver.DestroyShaderModule(vertShader, nil)

	fragShader, err := p.createShaderModule(shaders.Fragment)
	if err != nil {
		return errors.Wrap(err, "fragment shader")
	}
	defer driver.DestroyShaderModule(fragShader, nil)

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   vertexBindingDescriptions(),
		VertexAttributeDescriptions: vertexAttributeDescriptions(),
	}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: vertShader,
		Name:   "main",
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: fragShader,
		Name:   "main",
	}

	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{
			{
				X:        0,
				Y:        0,
				Width:    float32(extent.Width),
				Height:   float32(extent.Height),
				MinDepth: 0,
				MaxDepth: 1,
			},
		},
		Scissors: []core1_0.Rect2D{
			{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: extent,
			},
		},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeBack,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: p.device.msaaSamples,
		MinSampleShading:     1.0,
	}

	depthStencil := &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  true,
		DepthWriteEnable: true,
		DepthCompareOp:   core1_0.CompareOpLess,
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:   false,
				ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	p.layout, _, err = driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			descriptorSetLayout,
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating pipeline layout")
	}

	pipelines, _, err := driver.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   vertexInput,
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			DepthStencilState:  depthStencil,
			ColorBlendState:    colorBlend,
			Layout:             p.layout,
			RenderPass:         renderPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		return errors.Wrap(err, "creating graphics pipeline")
	}
	p.pipeline = pipelines[0]

	return nil
}

func (p *Pipeline) Layout() core1_0.PipelineLayout { return p.layout }
func (p *Pipeline) Pipeline() core1_0.Pipeline { return p.pipeline }

func (p *Pipeline) Destroy() {
	driver := p.device.deviceDriver
	if p.pipeline.Initialized() {
		driver.DestroyPipeline(p.pipeline, nil)
		p.pipeline = core1_0.Pipeline{}
	}
	if p.layout.Initialized() {
		driver.DestroyPipelineLayout(p.layout, nil)
		p.layout = core1_0.PipelineLayout{}
	}

	if p.swapchain != nil {
		p.swapchain.RemoveDependent()
		p.swapchain = nil
	}
}
