package renderer

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// Window is the part of the host window the renderer needs.
type Window interface {
	// VulkanProcAddr returns the loader's vkGetInstanceProcAddr.
	VulkanProcAddr() unsafe.Pointer
	VulkanInstanceExtensions() []string
	// DrawableSize is the framebuffer size in pixels. A minimized window reports 0x0.
	DrawableSize() (width, height int)
	CreateSurface(instance core1_0.Instance, surfaceDriver khr_surface.ExtensionDriver) (khr_surface.Surface, error)
}

type QueueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

// Shared reports whether graphics and presentation use the same family.
func (i *QueueFamilyIndices) Shared() bool {
	return *i.GraphicsFamily == *i.PresentFamily
}

func uniqueQueueFamilies(indices QueueFamilyIndices) []int {
	families := []int{*indices.GraphicsFamily}
	if families[0] != *indices.PresentFamily {
		families = append(families, *indices.PresentFamily)
	}
	return families
}

// deviceCandidate is what device selection knows about one physical device.
type deviceCandidate struct {
	index int
	name  string

	compatible          bool
	discrete            bool
	geometryShader      bool
	maxImageDimension2D int

	queueFamilies QueueFamilyIndices
}

func (c deviceCandidate) score() int {
	if !c.compatible || !c.geometryShader {
		return 0
	}

	score := c.maxImageDimension2D
	if c.discrete {
		score += 1000
	}
	return score
}

// selectDevice returns the position in candidates of the device picked by policy.
func selectDevice(policy DevicePolicy, candidates []deviceCandidate) (int, error) {
	switch policy {
	case DevicePolicyFirst:
		for i, candidate := range candidates {
			if candidate.compatible {
				return i, nil
			}
		}
	case DevicePolicyBest:
		best := -1
		bestScore := 0
		for i, candidate := range candidates {
			score := candidate.score()
			if score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best >= 0 {
			return best, nil
		}
	default:
		return 0, errors.AssertionFailedf("unknown device policy %s", policy)
	}

	return 0, errors.Wrapf(ErrNoCompatibleDevice, "%d devices considered, policy %s", len(candidates), policy)
}

var sampleCountsDescending = []core1_0.SampleCountFlags{
	core1_0.Samples64,
	core1_0.Samples32,
	core1_0.Samples16,
	core1_0.Samples8,
	core1_0.Samples4,
	core1_0.Samples2,
}

// maxUsableSampleCount picks the highest sample count present in counts, no higher than limit
// when limit is nonzero.
func maxUsableSampleCount(counts core1_0.SampleCountFlags, limit int) core1_0.SampleCountFlags {
	for _, samples := range sampleCountsDescending {
		if limit > 0 && int(samples) > limit {
			continue
		}
		if (counts & samples) != 0 {
			return samples
		}
	}
	return core1_0.Samples1
}

// DeviceContext owns the instance, surface and logical device. It is created once and
// destroyed after everything built on it.
type DeviceContext struct {
	config Config
	logger *slog.Logger

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceDriver khr_surface.ExtensionDriver
	surface       khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	deviceName     string
	queueFamilies  QueueFamilyIndices
	graphicsQueue  core1_0.Queue
	presentQueue   core1_0.Queue

	msaaSamples core1_0.SampleCountFlags
	depthFormat core1_0.Format

	releases releaseStack
}

// NewDeviceContext brings up everything up to and including the logical device. On failure
// whatever was created is released before returning.
func NewDeviceContext(config Config, window Window) (*DeviceContext, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	d := &DeviceContext{
		config:      config,
		logger:      config.logger(),
		msaaSamples: core1_0.Samples1,
	}

	d.globalDriver, err = core.CreateDriverFromProcAddr(window.VulkanProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "loading vulkan")
	}

	err = d.createInstance(window)
	if err == nil {
		err = d.setupDebugMessenger()
	}
	if err == nil {
		err = d.createSurface(window)
	}
	if err == nil {
		err = d.pickPhysicalDevice()
	}
	if err == nil {
		err = d.createLogicalDevice()
	}
	if err == nil {
		d.depthFormat, err = d.findDepthFormat()
	}
	if err != nil {
		d.Destroy()
		return nil, err
	}

	d.logger.Info("device ready",
		"device", d.deviceName,
		"graphicsFamily", *d.queueFamilies.GraphicsFamily,
		"presentFamily", *d.queueFamilies.PresentFamily,
		"msaaSamples", d.msaaSamples,
		"depthFormat", d.depthFormat,
	)
	return d, nil
}

func (d *DeviceContext) createInstance(window Window) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    d.config.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := d.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range window.VulkanInstanceExtensions() {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("createinstance: cannot initialize window: missing extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if d.config.EnableValidation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if d.config.EnableValidation {
		layers, _, err := d.globalDriver.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range d.config.ValidationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("createInstance: cannot add validation layer %s: not available, install the LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = d.debugMessengerOptions()
	}

	d.instanceDriver, _, err = d.globalDriver.CreateInstance(nil, instanceOptions)
	if err != nil {
		return errors.Wrap(err, "creating instance")
	}
	d.releases.push("instance", func() { d.instanceDriver.DestroyInstance(nil) })

	return nil
}

func (d *DeviceContext) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    d.logDebug,
	}
}

func (d *DeviceContext) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if (severity & ext_debug_utils.SeverityError) != 0 {
		level = slog.LevelError
	}
	d.logger.Log(context.Background(), level, data.Message, "type", msgType, "severity", severity)
	return false
}

func (d *DeviceContext) setupDebugMessenger() error {
	if !d.config.EnableValidation {
		return nil
	}

	var err error
	d.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(d.instanceDriver)
	d.debugMessenger, _, err = d.debugDriver.CreateDebugUtilsMessenger(nil, d.debugMessengerOptions())
	if err != nil {
		return errors.Wrap(err, "creating debug messenger")
	}
	d.releases.push("debug messenger", func() { d.debugDriver.DestroyDebugUtilsMessenger(d.debugMessenger, nil) })

	return nil
}

func (d *DeviceContext) createSurface(window Window) error {
	d.surfaceDriver = khr_surface.CreateExtensionDriverFromCoreDriver(d.instanceDriver)
	surface, err := window.CreateSurface(d.instanceDriver.Instance(), d.surfaceDriver)
	if err != nil {
		return errors.Wrap(err, "creating surface")
	}

	d.surface = surface
	d.releases.push("surface", func() { d.surfaceDriver.DestroySurface(d.surface, nil) })
	return nil
}

func (d *DeviceContext) pickPhysicalDevice() error {
	physicalDevices, _, err := d.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	candidates := make([]deviceCandidate, 0, len(physicalDevices))
	for i, device := range physicalDevices {
		candidate, err := d.describeDevice(i, device)
		if err != nil {
			return err
		}
		d.logger.Debug("physical device",
			"device", candidate.name,
			"compatible", candidate.compatible,
			"score", candidate.score(),
		)
		candidates = append(candidates, candidate)
	}

	chosen, err := selectDevice(d.config.DevicePolicy, candidates)
	if err != nil {
		return err
	}

	d.physicalDevice = physicalDevices[chosen]
	d.deviceName = candidates[chosen].name
	d.queueFamilies = candidates[chosen].queueFamilies

	properties, err := d.instanceDriver.GetPhysicalDeviceProperties(d.physicalDevice)
	if err != nil {
		return err
	}
	counts := properties.Limits.FramebufferColorSampleCounts & properties.Limits.FramebufferDepthSampleCounts
	d.msaaSamples = maxUsableSampleCount(counts, d.config.MaxSamples)

	return nil
}

func (d *DeviceContext) describeDevice(index int, device core1_0.PhysicalDevice) (deviceCandidate, error) {
	properties, err := d.instanceDriver.GetPhysicalDeviceProperties(device)
	if err != nil {
		return deviceCandidate{}, err
	}
	features := d.instanceDriver.GetPhysicalDeviceFeatures(device)

	candidate := deviceCandidate{
		index:               index,
		name:                properties.DriverName,
		discrete:            properties.DriverType == core1_0.PhysicalDeviceTypeDiscreteGPU,
		geometryShader:      features.GeometryShader,
		maxImageDimension2D: properties.Limits.MaxImageDimension2D,
	}

	candidate.queueFamilies, err = d.findQueueFamilies(device)
	if err != nil {
		return candidate, err
	}

	if !candidate.queueFamilies.IsComplete() || !features.SamplerAnisotropy {
		return candidate, nil
	}

	extensionsSupported, err := d.checkDeviceExtensionSupport(device)
	if err != nil || !extensionsSupported {
		return candidate, err
	}

	support, err := d.querySwapchainSupport(device)
	if err != nil {
		return candidate, err
	}
	candidate.compatible = support.adequate()

	return candidate, nil
}

func (d *DeviceContext) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) (bool, error) {
	extensions, _, err := d.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false, errors.Wrap(err, "enumerating device extensions")
	}

	for _, extension := range d.config.DeviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			d.logger.Debug("device extension missing", "extension", extension)
			return false, nil
		}
	}

	return true, nil
}

func (d *DeviceContext) findQueueFamilies(device core1_0.PhysicalDevice) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}
	queueFamilies := d.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if indices.GraphicsFamily == nil && (queueFamily.QueueFlags&core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := d.surfaceDriver.GetPhysicalDeviceSurfaceSupport(d.surface, device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if indices.PresentFamily == nil && supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func (d *DeviceContext) querySwapchainSupport(device core1_0.PhysicalDevice) (SwapchainSupport, error) {
	var details SwapchainSupport
	var err error

	details.Capabilities, _, err = d.surfaceDriver.GetPhysicalDeviceSurfaceCapabilities(d.surface, device)
	if err != nil {
		return details, err
	}

	details.Formats, _, err = d.surfaceDriver.GetPhysicalDeviceSurfaceFormats(d.surface, device)
	if err != nil {
		return details, err
	}

	details.PresentModes, _, err = d.surfaceDriver.GetPhysicalDeviceSurfacePresentModes(d.surface, device)
	return details, err
}

func (d *DeviceContext) createLogicalDevice() error {
	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies(d.queueFamilies) {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, d.config.DeviceExtensions...)

	// Required on portability implementations such as MoltenVK.
	extensions, _, err := d.instanceDriver.EnumerateDeviceExtensionProperties(d.physicalDevice)
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	d.deviceDriver, _, err = d.instanceDriver.CreateDevice(d.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: true,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "creating logical device")
	}
	d.releases.push("device", func() { d.deviceDriver.DestroyDevice(nil) })

	d.graphicsQueue = d.deviceDriver.GetQueue(*d.queueFamilies.GraphicsFamily, 0)
	d.presentQueue = d.deviceDriver.GetQueue(*d.queueFamilies.PresentFamily, 0)
	return nil
}

func (d *DeviceContext) findSupportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, bool) {
	for _, format := range formats {
		props := d.instanceDriver.GetPhysicalDeviceFormatProperties(d.physicalDevice, format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, true
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, true
		}
	}

	return 0, false
}

var depthFormatCandidates = []core1_0.Format{
	core1_0.FormatD32SignedFloat,
	core1_0.FormatD32SignedFloatS8UnsignedInt,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
}

func (d *DeviceContext) findDepthFormat() (core1_0.Format, error) {
	format, ok := d.findSupportedFormat(depthFormatCandidates, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment)
	if !ok {
		return 0, ErrNoSupportedDepthFormat
	}
	return format, nil
}

// SwapchainSupport queries the surface against the selected device.
func (d *DeviceContext) SwapchainSupport() (SwapchainSupport, error) {
	return d.querySwapchainSupport(d.physicalDevice)
}

func (d *DeviceContext) WaitIdle() error {
	_, err := d.deviceDriver.DeviceWaitIdle()
	return err
}

func (d *DeviceContext) DeviceName() string { return d.deviceName }

// Destroy releases the device, surface, messenger and instance. Everything created against
// the device must already be gone.
func (d *DeviceContext) Destroy() {
	d.releases.release(d.logger)
}
