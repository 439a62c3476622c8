package gpu

import (
	"fmt"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

// Debug enables verbose logging of buffer allocation and dispatches
var Debug bool

// Log prints a debug line prefixed with [gpu]
func Log(format string, args ...interface{}) {
	fmt.Printf("[gpu] "+format+"\n", args...)
}

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
}

var (
	ctx              Context
	preferredAdapter string
)

// PreferAdapter selects the first adapter whose name or vendor contains
// substr (case-insensitive). It only has an effect before the context is
// first initialized.
func PreferAdapter(substr string) {
	preferredAdapter = strings.ToLower(substr)
}

// GetContext returns the singleton GPU context, initializing it if necessary
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = errors.New("failed to create WebGPU instance")
			return
		}

		if preferredAdapter != "" {
			for _, a := range ctx.Instance.EnumerateAdapters(nil) {
				info := a.GetInfo()
				if Debug {
					Log("adapter: %s (vendor: %s, type: %d)", info.Name, info.VendorName, info.AdapterType)
				}
				if strings.Contains(strings.ToLower(info.Name), preferredAdapter) ||
					strings.Contains(strings.ToLower(info.VendorName), preferredAdapter) {
					ctx.Adapter = a
					break
				}
			}
		}

		tryInit := func(opts *wgpu.RequestAdapterOptions) error {
			if ctx.Adapter != nil {
				return nil
			}
			var err error
			ctx.Adapter, err = ctx.Instance.RequestAdapter(opts)
			return err
		}

		if ctx.Adapter == nil {
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceHighPerformance,
			})
		}
		if initErr != nil && ctx.Adapter == nil {
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceLowPower,
			})
		}
		if initErr != nil && ctx.Adapter == nil {
			initErr = tryInit(nil)
		}
		if ctx.Adapter == nil {
			initErr = errors.Wrap(initErr, "all adapter attempts failed")
			return
		}

		if Debug {
			info := ctx.Adapter.GetInfo()
			Log("using adapter: %s (vendor: %s)", info.Name, info.VendorName)
		}

		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			initErr = err
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, errors.New("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}

// AdapterName returns the name of the adapter in use, or "" before init
func AdapterName() string {
	if ctx.Adapter == nil {
		return ""
	}
	return ctx.Adapter.GetInfo().Name
}
