package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"

	"github.com/vkngwrapper/vulkan-viewer/mesh"
	"github.com/vkngwrapper/vulkan-viewer/renderer"
	"github.com/vkngwrapper/vulkan-viewer/texture"
)

type options struct {
	model    string
	material string
	texture  string
	vertex   string
	fragment string

	device     string
	validation bool
	msaa       int
	width      int
	height     int
	verbose    bool
}

func parseOptions() options {
	var opts options
	flag.StringVar(&opts.model, "model", "meshes/viking_room.obj", "OBJ mesh to display")
	flag.StringVar(&opts.material, "mtl", "meshes/viking_room.mtl", "material library for the mesh, empty for none")
	flag.StringVar(&opts.texture, "texture", "images/viking_room.png", "texture image (png, jpeg, bmp, tiff or webp)")
	flag.StringVar(&opts.vertex, "vert", "shaders/vert.spv", "vertex shader SPIR-V")
	flag.StringVar(&opts.fragment, "frag", "shaders/frag.spv", "fragment shader SPIR-V")
	flag.StringVar(&opts.device, "device", "first", "physical device policy: first or best")
	flag.BoolVar(&opts.validation, "validation", false, "enable the Khronos validation layer")
	flag.IntVar(&opts.msaa, "msaa", 0, "cap on MSAA samples, 0 for the device maximum")
	flag.IntVar(&opts.width, "width", 800, "initial window width")
	flag.IntVar(&opts.height, "height", 600, "initial window height")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()
	return opts
}

// sdlWindow adapts an SDL window to renderer.Window.
type sdlWindow struct {
	window *sdl.Window
}

func (w sdlWindow) VulkanProcAddr() unsafe.Pointer {
	return sdl.VulkanGetVkGetInstanceProcAddr()
}

func (w sdlWindow) VulkanInstanceExtensions() []string {
	return w.window.VulkanGetInstanceExtensions()
}

func (w sdlWindow) DrawableSize() (int, int) {
	if (w.window.GetFlags() & sdl.WINDOW_MINIMIZED) != 0 {
		return 0, 0
	}
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

func (w sdlWindow) CreateSurface(instance core1_0.Instance, surfaceDriver khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	return vkng_sdl2.CreateSurface(instance, surfaceDriver, w.window)
}

type ViewerApplication struct {
	opts   options
	logger *slog.Logger

	window   *sdl.Window
	renderer *renderer.Renderer
}

func (app *ViewerApplication) Run() error {
	scene, err := app.loadScene()
	if err != nil {
		return err
	}

	err = app.initWindow()
	if err != nil {
		return err
	}
	defer app.cleanup()

	err = app.initRenderer(scene)
	if err != nil {
		return err
	}

	return app.mainLoop()
}

func (app *ViewerApplication) loadScene() (renderer.Scene, error) {
	var scene renderer.Scene
	var err error

	scene.Mesh, err = mesh.LoadOBJFile(app.opts.model, app.opts.material)
	if err != nil {
		return scene, err
	}

	scene.Texture, err = texture.Load(app.opts.texture)
	if err != nil {
		return scene, err
	}

	scene.Shaders.Vertex, err = os.ReadFile(app.opts.vertex)
	if err != nil {
		return scene, errors.Wrap(err, "reading vertex shader")
	}

	scene.Shaders.Fragment, err = os.ReadFile(app.opts.fragment)
	if err != nil {
		return scene, errors.Wrap(err, "reading fragment shader")
	}

	return scene, nil
}

func (app *ViewerApplication) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}

	window, err := sdl.CreateWindow("Vulkan", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(app.opts.width), int32(app.opts.height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return err
	}
	app.window = window

	return nil
}

func (app *ViewerApplication) initRenderer(scene renderer.Scene) error {
	policy, err := renderer.ParseDevicePolicy(app.opts.device)
	if err != nil {
		return err
	}

	config := renderer.DefaultConfig()
	config.DevicePolicy = policy
	config.EnableValidation = app.opts.validation
	config.MaxSamples = app.opts.msaa
	config.Logger = app.logger

	app.renderer, err = renderer.New(config, sdlWindow{window: app.window}, scene)
	if err != nil {
		return err
	}

	app.window.SetTitle(windowTitle(app.renderer.DeviceName()))
	return nil
}

func windowTitle(deviceName string) string {
	if deviceName == "" {
		return "Vulkan"
	}
	return fmt.Sprintf("Vulkan - %s", deviceName)
}

func (app *ViewerApplication) mainLoop() error {
	rendering := true

appLoop:
	for true {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
					app.renderer.NotifyResized()
				case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
					w, h := app.window.GetSize()
					rendering = w > 0 && h > 0
					app.renderer.NotifyResized()
				}
			}
		}
		if rendering {
			err := app.renderer.DrawFrame()
			if err != nil {
				return err
			}
		} else {
			sdl.Delay(10)
		}
	}

	return nil
}

func (app *ViewerApplication) cleanup() {
	if app.renderer != nil {
		app.renderer.Close()
	}

	if app.window != nil {
		app.window.Destroy()
	}
	sdl.Quit()
}

func main() {
	runtime.LockOSThread()

	opts := parseOptions()
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	app := &ViewerApplication{
		opts:   opts,
		logger: logger,
	}

	err := app.Run()
	if err != nil {
		log.Fatal(exitMessage(err))
	}
}

// exitMessage renders err with its stack, calling out errors that mean this machine cannot
// run the viewer at all.
func exitMessage(err error) string {
	if renderer.IsFatal(err) {
		return fmt.Sprintf("this machine cannot run the viewer: %+v", err)
	}
	return fmt.Sprintf("%+v", err)
}
