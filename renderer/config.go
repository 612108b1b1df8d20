package renderer

import (
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// MaxFramesInFlight is the number of frames the CPU may record ahead of the GPU.
const MaxFramesInFlight = 2

// DevicePolicy picks among the compatible physical devices.
type DevicePolicy int

const (
	// DevicePolicyFirst takes the first compatible device in enumeration order.
	DevicePolicyFirst DevicePolicy = iota
	// DevicePolicyBest takes the compatible device with the highest score.
	DevicePolicyBest
)

func (p DevicePolicy) String() string {
	switch p {
	case DevicePolicyFirst:
		return "first"
	case DevicePolicyBest:
		return "best"
	}
	return fmt.Sprintf("DevicePolicy(%d)", int(p))
}

// ParseDevicePolicy accepts the names printed by DevicePolicy.String.
func ParseDevicePolicy(name string) (DevicePolicy, error) {
	switch name {
	case "first":
		return DevicePolicyFirst, nil
	case "best":
		return DevicePolicyBest, nil
	}
	return 0, errors.Newf("unknown device policy %q (want first or best)", name)
}

type Config struct {
	ApplicationName string
	DevicePolicy    DevicePolicy

	// EnableValidation turns on ValidationLayers and the debug-utils messenger.
	EnableValidation bool
	ValidationLayers []string
	DeviceExtensions []string

	// MaxSamples caps the MSAA sample count; 0 uses the device maximum.
	MaxSamples int
	ClearColor [4]float32

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		ApplicationName:  "Vulkan Viewer",
		DevicePolicy:     DevicePolicyFirst,
		ValidationLayers: []string{"VK_LAYER_KHRONOS_validation"},
		DeviceExtensions: []string{khr_swapchain.ExtensionName},
		ClearColor:       [4]float32{0, 0, 0, 1},
	}
}

func (c *Config) Validate() error {
	if c.DevicePolicy != DevicePolicyFirst && c.DevicePolicy != DevicePolicyBest {
		return errors.Newf("invalid device policy %s", c.DevicePolicy)
	}

	hasSwapchain := false
	for _, ext := range c.DeviceExtensions {
		if ext == khr_swapchain.ExtensionName {
			hasSwapchain = true
		}
	}
	if !hasSwapchain {
		return errors.Newf("device extensions must include %s", khr_swapchain.ExtensionName)
	}

	if c.EnableValidation && len(c.ValidationLayers) == 0 {
		return errors.New("validation enabled with no validation layers")
	}

	if c.MaxSamples < 0 || c.MaxSamples > 64 || (c.MaxSamples > 0 && bits.OnesCount(uint(c.MaxSamples)) != 1) {
		return errors.Newf("msaa sample cap %d is not 0 or a power of two up to 64", c.MaxSamples)
	}

	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
