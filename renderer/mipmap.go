package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type mipCommandKind int

const (
	mipBarrier mipCommandKind = iota
	mipBlit
)

// mipCommand is one step of the mip chain: either a layout barrier on a single level or a
// blit from one level into the next.
type mipCommand struct {
	kind mipCommandKind

	level     int
	oldLayout core1_0.ImageLayout
	newLayout core1_0.ImageLayout
	srcAccess core1_0.AccessFlags
	dstAccess core1_0.AccessFlags
	srcStage  core1_0.PipelineStageFlags
	dstStage  core1_0.PipelineStageFlags

	srcWidth, srcHeight int
	dstWidth, dstHeight int
}

// planMipmaps lays out the barriers and blits that fill levels 1..levels-1 from level 0. Every
// level starts in transfer-dst and ends in shader-read-only.
func planMipmaps(width, height, levels int) []mipCommand {
	var plan []mipCommand

	mipWidth := width
	mipHeight := height
	for i := 1; i < levels; i++ {
		plan = append(plan, mipCommand{
			kind:      mipBarrier,
			level:     i - 1,
			oldLayout: core1_0.ImageLayoutTransferDstOptimal,
			newLayout: core1_0.ImageLayoutTransferSrcOptimal,
			srcAccess: core1_0.AccessTransferWrite,
			dstAccess: core1_0.AccessTransferRead,
			srcStage:  core1_0.PipelineStageTransfer,
			dstStage:  core1_0.PipelineStageTransfer,
		})

		nextWidth := max(mipWidth/2, 1)
		nextHeight := max(mipHeight/2, 1)

		plan = append(plan, mipCommand{
			kind:      mipBlit,
			level:     i,
			srcWidth:  mipWidth,
			srcHeight: mipHeight,
			dstWidth:  nextWidth,
			dstHeight: nextHeight,
		})

		plan = append(plan, mipCommand{
			kind:      mipBarrier,
			level:     i - 1,
			oldLayout: core1_0.ImageLayoutTransferSrcOptimal,
			newLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
			srcAccess: core1_0.AccessTransferRead,
			dstAccess: core1_0.AccessShaderRead,
			srcStage:  core1_0.PipelineStageTransfer,
			dstStage:  core1_0.PipelineStageFragmentShader,
		})

		mipWidth = nextWidth
		mipHeight = nextHeight
	}

	plan = append(plan, mipCommand{
		kind:      mipBarrier,
		level:     levels - 1,
		oldLayout: core1_0.ImageLayoutTransferDstOptimal,
		newLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
		srcAccess: core1_0.AccessTransferWrite,
		dstAccess: core1_0.AccessShaderRead,
		srcStage:  core1_0.PipelineStageTransfer,
		dstStage:  core1_0.PipelineStageFragmentShader,
	})

	return plan
}

func colorLayers(level int) core1_0.ImageSubresourceLayers {
	return core1_0.ImageSubresourceLayers{
		AspectMask:     core1_0.ImageAspectColor,
		MipLevel:       level,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (c mipCommand) record(driver core1_0.CoreDeviceDriver, buffer core1_0.CommandBuffer, image core1_0.Image) error {
	if c.kind == mipBlit {
		return driver.CmdBlitImage(buffer, image, core1_0.ImageLayoutTransferSrcOptimal, image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
			{
				SrcSubresource: colorLayers(c.level - 1),
				SrcOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: c.srcWidth, Y: c.srcHeight, Z: 1},
				},
				DstSubresource: colorLayers(c.level),
				DstOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: c.dstWidth, Y: c.dstHeight, Z: 1},
				},
			},
		}, core1_0.FilterLinear)
	}

	return driver.CmdPipelineBarrier(buffer, c.srcStage, c.dstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			Image:               image,
			OldLayout:           c.oldLayout,
			NewLayout:           c.newLayout,
			SrcAccessMask:       c.srcAccess,
			DstAccessMask:       c.dstAccess,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   c.level,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		},
	})
}

// GenerateMipmaps fills every mip level of image from level 0 with linear blits. Level 0 must
// already hold the pixels and every level must be in transfer-dst layout. All levels end in
// shader-read-only layout.
func (f *ResourceFactory) GenerateMipmaps(image *Image) error {
	properties := f.device.instanceDriver.GetPhysicalDeviceFormatProperties(f.device.physicalDevice, image.Format)
	if (properties.OptimalTilingFeatures & core1_0.FormatFeatureSampledImageFilterLinear) == 0 {
		return errors.Wrapf(ErrUnsupportedBlitFormat, "format %s", image.Format)
	}

	plan := planMipmaps(image.Width, image.Height, image.MipLevels)
	return f.ExecuteOneShot(func(buffer core1_0.CommandBuffer) error {
		for _, command := range plan {
			err := command.record(f.device.deviceDriver, buffer, image.Image)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
