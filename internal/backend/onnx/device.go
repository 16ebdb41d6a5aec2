package onnx

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ekisa-team/ttsd/internal/backend"
	"github.com/ekisa-team/ttsd/internal/envvar"
)

var (
	runtimeMu   sync.Mutex
	runtimeRefs int
)

// libraryPath finds the onnxruntime shared library.
func libraryPath() string {
	if p := os.Getenv(envvar.OnnxRuntimeLibPath); p != "" {
		return p
	}

	var candidates []string
	fallback := "libonnxruntime.so"

	switch runtime.GOOS {
	case "windows":
		candidates = []string{"onnxruntime.dll", "./lib/onnxruntime.dll"}
		fallback = "onnxruntime.dll"
	case "darwin":
		candidates = []string{
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"./libonnxruntime.dylib",
		}
		fallback = "libonnxruntime.dylib"
	default:
		candidates = []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"./libonnxruntime.so",
			"./lib/libonnxruntime.so",
		}
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return fallback
}

// acquireRuntime initialises the process-wide onnxruntime environment.
func acquireRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeRefs == 0 && !ort.IsInitialized() {
		lib := libraryPath()
		ort.SetSharedLibraryPath(lib)

		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime from %s: %w", lib, err)
		}
		slog.Debug("ONNX runtime initialized", "library", lib)
	}

	runtimeRefs++
	return nil
}

// releaseRuntime tears the environment down once the last session is gone.
func releaseRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	runtimeRefs--
	if runtimeRefs > 0 {
		return nil
	}

	return ort.DestroyEnvironment()
}

// candidateDevices lists the devices to try, in order, for a preference.
func candidateDevices(pref backend.Device) []backend.Device {
	switch pref {
	case backend.DeviceCUDA:
		return []backend.Device{backend.DeviceCUDA}
	case backend.DeviceCPU:
		return []backend.Device{backend.DeviceCPU}
	default:
		return []backend.Device{backend.DeviceCUDA, backend.DeviceCPU}
	}
}

// sessionOptions builds session options that place the graph on device.
func sessionOptions(device backend.Device, threads int) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if threads > 0 {
		if err := opts.SetIntraOpNumThreads(threads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	if device != backend.DeviceCUDA {
		return opts, nil
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("%w: cuda: %w", backend.ErrDeviceUnavailable, err)
	}
	defer cuda.Destroy()

	if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("%w: cuda: %w", backend.ErrDeviceUnavailable, err)
	}

	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("%w: cuda: %w", backend.ErrDeviceUnavailable, err)
	}

	return opts, nil
}
