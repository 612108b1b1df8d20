package renderer

import (
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// UniformBufferObject is the layout of the vertex-stage uniform block.
type UniformBufferObject struct {
	Model mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

const uniformBufferSize = int(unsafe.Sizeof(UniformBufferObject{}))

const (
	nearPlane = 0.1
	farPlane  = 10.0
)

// vulkanPerspective is a right-handed perspective projection into Vulkan clip space: depth
// in [0,1] and Y pointing down.
func vulkanPerspective(fovy, aspectRatio, near, far float32) mgl32.Mat4 {
	fmn := far - near
	f := float32(1. / math.Tan(float64(fovy)/2.0))

	return mgl32.Mat4{
		f / aspectRatio, 0, 0, 0,
		0, -f, 0, 0,
		0, 0, -far / fmn, -1,
		0, 0, -(far * near) / fmn, 0,
	}
}

// computeTransforms spins the model a quarter turn per second around Z, viewed from (2,2,2).
func computeTransforms(seconds float64, extent core1_0.Extent2D) UniformBufferObject {
	timePeriod := float32(math.Mod(seconds, 4.0))

	ubo := UniformBufferObject{}
	ubo.Model = mgl32.HomogRotate3D(timePeriod*mgl32.DegToRad(90.0), mgl32.Vec3{0, 0, 1})
	ubo.View = mgl32.LookAt(2, 2, 2, 0, 0, 0, 0, 0, 1)

	aspectRatio := float32(1)
	if extent.Height > 0 {
		aspectRatio = float32(extent.Width) / float32(extent.Height)
	}
	ubo.Proj = vulkanPerspective(mgl32.DegToRad(45), aspectRatio, nearPlane, farPlane)

	return ubo
}
