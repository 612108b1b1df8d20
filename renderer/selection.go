package renderer

import (
	"math"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// SwapchainSupport is what a surface reports for one physical device.
type SwapchainSupport struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

func (s SwapchainSupport) adequate() bool {
	return len(s.Formats) > 0 && len(s.PresentModes) > 0
}

// ChooseSurfaceFormat prefers 8-bit BGRA sRGB with a non-linear sRGB color space and
// otherwise takes the first format offered.
func ChooseSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	if len(availableFormats) == 0 {
		return khr_surface.SurfaceFormat{}
	}
	return availableFormats[0]
}

// ChoosePresentMode prefers mailbox and falls back to FIFO, the only mode every
// implementation must support.
func ChoosePresentMode(availablePresentModes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range availablePresentModes {
		if presentMode == khr_surface.PresentModeMailbox {
			return presentMode
		}
	}

	return khr_surface.PresentModeFIFO
}

// extentIsUndefined matches the 0xFFFFFFFF sentinel whether it arrives as -1 or as the
// unsigned maximum.
func extentIsUndefined(width int) bool {
	return uint32(width) == math.MaxUint32
}

// ChooseExtent uses the surface's current extent when it is defined, otherwise the drawable
// size in pixels clamped into the surface's limits.
func ChooseExtent(capabilities *khr_surface.SurfaceCapabilities, drawableWidth, drawableHeight int) core1_0.Extent2D {
	if !extentIsUndefined(capabilities.CurrentExtent.Width) {
		return capabilities.CurrentExtent
	}

	width := clamp(drawableWidth, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width)
	height := clamp(drawableHeight, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height)

	return core1_0.Extent2D{Width: width, Height: height}
}

// ChooseImageCount asks for one image more than the minimum, within the surface's cap when
// it declares one.
func ChooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

// MipLevels is the length of the full mip chain for a width x height texture.
func MipLevels(width, height int) int {
	largest := max(width, height)
	if largest < 1 {
		return 1
	}
	return int(math.Floor(math.Log2(float64(largest)))) + 1
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
