package renderer

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Buffer is a VkBuffer together with the memory bound to it.
type Buffer struct {
	Buffer core1_0.Buffer
	Memory core1_0.DeviceMemory
	Size   int
}

// Image is a VkImage, its memory and a view covering every mip level.
type Image struct {
	Image  core1_0.Image
	Memory core1_0.DeviceMemory
	View   core1_0.ImageView

	Format    core1_0.Format
	Width     int
	Height    int
	MipLevels int
}

type ImageOptions struct {
	Width, Height int
	MipLevels     int
	Samples       core1_0.SampleCountFlags
	Format        core1_0.Format
	Tiling        core1_0.ImageTiling
	Usage         core1_0.ImageUsageFlags
	Properties    core1_0.MemoryPropertyFlags
	Aspect        core1_0.ImageAspectFlags
}

// ResourceFactory allocates buffers and images against a device and runs one-shot transfer
// work on the graphics queue.
type ResourceFactory struct {
	device *DeviceContext
	logger *slog.Logger

	commandPool core1_0.CommandPool
}

func NewResourceFactory(device *DeviceContext) (*ResourceFactory, error) {
	pool, _, err := device.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: *device.queueFamilies.GraphicsFamily,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating command pool")
	}

	return &ResourceFactory{
		device:      device,
		logger:      device.logger,
		commandPool: pool,
	}, nil
}

func (f *ResourceFactory) CommandPool() core1_0.CommandPool {
	return f.commandPool
}

func (f *ResourceFactory) Destroy() {
	if f.commandPool.Initialized() {
		f.device.deviceDriver.DestroyCommandPool(f.commandPool, nil)
		f.commandPool = core1_0.CommandPool{}
	}
}

// selectMemoryType returns the first memory type allowed by filter whose flags include every
// requested property.
func selectMemoryType(memoryTypes []core1_0.MemoryPropertyFlags, filter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, flags := range memoryTypes {
		typeBit := uint32(1 << i)

		if (filter&typeBit) != 0 && (flags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Wrapf(ErrNoSuitableMemoryType, "filter %#x, properties %s", filter, properties)
}

func (f *ResourceFactory) findMemoryType(filter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := f.device.instanceDriver.GetPhysicalDeviceMemoryProperties(f.device.physicalDevice)

	memoryTypes := make([]core1_0.MemoryPropertyFlags, len(memProperties.MemoryTypes))
	for i, memoryType := range memProperties.MemoryTypes {
		memoryTypes[i] = memoryType.PropertyFlags
	}

	return selectMemoryType(memoryTypes, filter, properties)
}

func (f *ResourceFactory) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	driver := f.device.deviceDriver

	buffer, _, err := driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating buffer")
	}

	memRequirements := driver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := f.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		driver.DestroyBuffer(buffer, nil)
		return nil, err
	}

	memory, _, err := driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		driver.DestroyBuffer(buffer, nil)
		return nil, errors.Wrap(err, "allocating buffer memory")
	}

	_, err = driver.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		driver.DestroyBuffer(buffer, nil)
		driver.FreeMemory(memory, nil)
		return nil, err
	}

	return &Buffer{Buffer: buffer, Memory: memory, Size: size}, nil
}

func (f *ResourceFactory) DestroyBuffer(buffer *Buffer) {
	if buffer == nil {
		return
	}
	if buffer.Buffer.Initialized() {
		f.device.deviceDriver.DestroyBuffer(buffer.Buffer, nil)
	}
	if buffer.Memory.Initialized() {
		f.device.deviceDriver.FreeMemory(buffer.Memory, nil)
	}
	*buffer = Buffer{}
}

// WriteBuffer maps buffer and writes data into it in the device byte order. The buffer must
// be host visible and coherent.
func (f *ResourceFactory) WriteBuffer(buffer *Buffer, offset int, data any) error {
	driver := f.device.deviceDriver
	bufferSize := binary.Size(data)
	if bufferSize < 0 {
		return errors.AssertionFailedf("cannot write %T to a buffer", data)
	}
	if offset+bufferSize > buffer.Size {
		return errors.AssertionFailedf("write of %d bytes at %d overflows a %d byte buffer", bufferSize, offset, buffer.Size)
	}

	memoryPtr, _, err := driver.MapMemory(buffer.Memory, offset, bufferSize, 0)
	if err != nil {
		return err
	}
	defer driver.UnmapMemory(buffer.Memory)

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), bufferSize)

	buf := &bytes.Buffer{}
	err = binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return err
	}

	copy(dataBuffer, buf.Bytes())
	return nil
}

// UploadBuffer copies data into a new device-local buffer through a staging buffer.
func (f *ResourceFactory) UploadBuffer(data any, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	bufferSize := binary.Size(data)
	if bufferSize <= 0 {
		return nil, errors.AssertionFailedf("cannot upload %T", data)
	}

	staging, err := f.CreateBuffer(bufferSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer f.DestroyBuffer(staging)

	err = f.WriteBuffer(staging, 0, data)
	if err != nil {
		return nil, err
	}

	buffer, err := f.CreateBuffer(bufferSize, core1_0.BufferUsageTransferDst|usage, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, err
	}

	err = f.ExecuteOneShot(func(commandBuffer core1_0.CommandBuffer) error {
		return f.device.deviceDriver.CmdCopyBuffer(commandBuffer, staging.Buffer, buffer.Buffer,
			core1_0.BufferCopy{
				SrcOffset: 0,
				DstOffset: 0,
				Size:      bufferSize,
			},
		)
	})
	if err != nil {
		f.DestroyBuffer(buffer)
		return nil, err
	}

	return buffer, nil
}

func (f *ResourceFactory) CreateImage(options ImageOptions) (*Image, error) {
	driver := f.device.deviceDriver

	image, _, err := driver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  options.Width,
			Height: options.Height,
			Depth:  1,
		},
		MipLevels:     options.MipLevels,
		ArrayLayers:   1,
		Format:        options.Format,
		Tiling:        options.Tiling,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         options.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       options.Samples,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating image")
	}

	result := &Image{
		Image:     image,
		Format:    options.Format,
		Width:     options.Width,
		Height:    options.Height,
		MipLevels: options.MipLevels,
	}

	memReqs := driver.GetImageMemoryRequirements(image)
	memoryIndex, err := f.findMemoryType(memReqs.MemoryTypeBits, options.Properties)
	if err != nil {
		f.DestroyImage(result)
		return nil, err
	}

	result.Memory, _, err = driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		f.DestroyImage(result)
		return nil, errors.Wrap(err, "allocating image memory")
	}

	_, err = driver.BindImageMemory(image, result.Memory, 0)
	if err != nil {
		f.DestroyImage(result)
		return nil, err
	}

	result.View, err = f.createImageView(image, options.Format, options.Aspect, options.MipLevels)
	if err != nil {
		f.DestroyImage(result)
		return nil, err
	}

	return result, nil
}

func (f *ResourceFactory) createImageView(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags, mipLevels int) (core1_0.ImageView, error) {
	imageView, _, err := f.device.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	return imageView, err
}

func (f *ResourceFactory) DestroyImage(image *Image) {
	if image == nil {
		return
	}

	driver := f.device.deviceDriver
	if image.View.Initialized() {
		driver.DestroyImageView(image.View, nil)
	}
	if image.Image.Initialized() {
		driver.DestroyImage(image.Image, nil)
	}
	if image.Memory.Initialized() {
		driver.FreeMemory(image.Memory, nil)
	}
	*image = Image{}
}

// UploadTexture creates a sampled RGBA8 sRGB image from tightly packed pixels, filling the
// whole mip chain. The image is left in shader-read-only layout.
func (f *ResourceFactory) UploadTexture(pixels []byte, width, height int) (*Image, error) {
	imageSize := width * height * 4
	if len(pixels) != imageSize {
		return nil, errors.AssertionFailedf("%dx%d texture needs %d bytes, got %d", width, height, imageSize, len(pixels))
	}

	staging, err := f.CreateBuffer(imageSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer f.DestroyBuffer(staging)

	err = f.WriteBuffer(staging, 0, pixels)
	if err != nil {
		return nil, err
	}

	mipLevels := MipLevels(width, height)
	texture, err := f.CreateImage(ImageOptions{
		Width:      width,
		Height:     height,
		MipLevels:  mipLevels,
		Samples:    core1_0.Samples1,
		Format:     core1_0.FormatR8G8B8A8SRGB,
		Tiling:     core1_0.ImageTilingOptimal,
		Usage:      core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Aspect:     core1_0.ImageAspectColor,
	})
	if err != nil {
		return nil, err
	}

	err = f.TransitionImageLayout(texture, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	if err == nil {
		err = f.copyBufferToImage(staging, texture)
	}
	if err == nil {
		err = f.GenerateMipmaps(texture)
	}
	if err != nil {
		f.DestroyImage(texture)
		return nil, err
	}

	f.logger.Debug("texture uploaded", "width", width, "height", height, "mipLevels", mipLevels)
	return texture, nil
}

func (f *ResourceFactory) copyBufferToImage(buffer *Buffer, image *Image) error {
	return f.ExecuteOneShot(func(commandBuffer core1_0.CommandBuffer) error {
		return f.device.deviceDriver.CmdCopyBufferToImage(commandBuffer, buffer.Buffer, image.Image, core1_0.ImageLayoutTransferDstOptimal,
			core1_0.BufferImageCopy{
				BufferOffset:      0,
				BufferRowLength:   0,
				BufferImageHeight: 0,

				ImageSubresource: colorLayers(0),
				ImageOffset:      core1_0.Offset3D{X: 0, Y: 0, Z: 0},
				ImageExtent:      core1_0.Extent3D{Width: image.Width, Height: image.Height, Depth: 1},
			},
		)
	})
}

// TransitionImageLayout moves every mip level of image between two of the supported layouts.
func (f *ResourceFactory) TransitionImageLayout(image *Image, oldLayout, newLayout core1_0.ImageLayout) error {
	barrier, err := transitionBarrier(image.Format, oldLayout, newLayout)
	if err != nil {
		return err
	}

	return f.ExecuteOneShot(func(commandBuffer core1_0.CommandBuffer) error {
		return f.device.deviceDriver.CmdPipelineBarrier(commandBuffer, barrier.srcStage, barrier.dstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
			barrier.imageBarrier(image.Image, oldLayout, newLayout, image.MipLevels),
		})
	})
}

// ExecuteOneShot records commands into a throwaway primary command buffer, submits it to the
// graphics queue and waits for the queue to drain.
func (f *ResourceFactory) ExecuteOneShot(record func(commandBuffer core1_0.CommandBuffer) error) error {
	driver := f.device.deviceDriver

	buffers, _, err := driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        f.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return err
	}

	buffer := buffers[0]
	defer driver.FreeCommandBuffers(buffer)

	_, err = driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return err
	}

	err = record(buffer)
	if err != nil {
		return err
	}

	_, err = driver.EndCommandBuffer(buffer)
	if err != nil {
		return err
	}

	_, err = driver.QueueSubmit(f.device.graphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return err
	}

	_, err = driver.QueueWaitIdle(f.device.graphicsQueue)
	return err
}
