package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// layoutBarrier is the access masks, pipeline stages and aspect for one image layout change.
type layoutBarrier struct {
	srcAccess core1_0.AccessFlags
	dstAccess core1_0.AccessFlags
	srcStage  core1_0.PipelineStageFlags
	dstStage  core1_0.PipelineStageFlags
	aspect    core1_0.ImageAspectFlags
}

func hasStencilComponent(format core1_0.Format) bool {
	return format == core1_0.FormatD32SignedFloatS8UnsignedInt || format == core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
}

// transitionBarrier looks up one of the three layout changes the renderer performs. Anything
// else is a programming error and fails with ErrUnsupportedLayoutTransition.
func transitionBarrier(format core1_0.Format, oldLayout, newLayout core1_0.ImageLayout) (layoutBarrier, error) {
	switch {
	case oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutTransferDstOptimal:
		return layoutBarrier{
			srcAccess: 0,
			dstAccess: core1_0.AccessTransferWrite,
			srcStage:  core1_0.PipelineStageTopOfPipe,
			dstStage:  core1_0.PipelineStageTransfer,
			aspect:    core1_0.ImageAspectColor,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal:
		return layoutBarrier{
			srcAccess: core1_0.AccessTransferWrite,
			dstAccess: core1_0.AccessShaderRead,
			srcStage:  core1_0.PipelineStageTransfer,
			dstStage:  core1_0.PipelineStageFragmentShader,
			aspect:    core1_0.ImageAspectColor,
		}, nil
	case oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutDepthStencilAttachmentOptimal:
		aspect := core1_0.ImageAspectDepth
		if hasStencilComponent(format) {
			aspect |= core1_0.ImageAspectStencil
		}
		return layoutBarrier{
			srcAccess: 0,
			dstAccess: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
			srcStage:  core1_0.PipelineStageTopOfPipe,
			dstStage:  core1_0.PipelineStageEarlyFragmentTests,
			aspect:    aspect,
		}, nil
	}

	return layoutBarrier{}, errors.Wrapf(ErrUnsupportedLayoutTransition, "%s -> %s", oldLayout, newLayout)
}

// imageBarrier turns a layoutBarrier into the memory barrier covering every mip level of image.
func (b layoutBarrier) imageBarrier(image core1_0.Image, oldLayout, newLayout core1_0.ImageLayout, mipLevels int) core1_0.ImageMemoryBarrier {
	return core1_0.ImageMemoryBarrier{
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		Image:               image,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     b.aspect,
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		SrcAccessMask: b.srcAccess,
		DstAccessMask: b.dstAccess,
	}
}
