//go:build !nogpu

package wgpu

import (
	"log/slog"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/subd"
	"github.com/gogpu/subd/backend"
)

var shared = &provider{}

// init registers the GPU substrate on package import.
func init() {
	subd.RegisterBackend(shared)
}

// DeviceProvider is a host application's GPU device.
type DeviceProvider = gpucontext.DeviceProvider

// SetDeviceProvider makes evaluators created afterwards run on the device
// of dp. subd.SetDeviceProvider reaches the same provider.
func SetDeviceProvider(dp DeviceProvider) error {
	return shared.SetDeviceProvider(dp)
}

// SetLogger sets the logger of the GPU substrate. subd.SetLogger calls it
// for every registered provider.
func SetLogger(l *slog.Logger) { setLogger(l) }

// provider opens the device on first use. A device adopted through
// SetDeviceProvider replaces it for evaluators created afterwards;
// existing evaluators keep the kernels they were built with.
type provider struct {
	mu      sync.Mutex
	k       *Kernels
	sub     subd.Substrate
	lastErr error
	tried   bool
}

func (*provider) Kind() backend.Kind { return backend.KindGPU }

func (p *provider) Substrate() (subd.Substrate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return p.sub, nil
	}
	if p.tried {
		return nil, p.lastErr
	}
	p.tried = true
	k, err := New()
	if err != nil {
		p.lastErr = err
		slogger().Warn("wgpu: GPU substrate unavailable", "err", err)
		return nil, err
	}
	p.use(k)
	return p.sub, nil
}

func (p *provider) use(k *Kernels) {
	p.k = k
	p.sub = subd.Bind[*Buffer, *StencilTable, *PatchTable](k)
	slogger().Info("wgpu: GPU substrate ready", "device", k.DeviceName())
}

// SetDeviceProvider switches the substrate to a device owned by the host
// application.
func (p *provider) SetDeviceProvider(provider any) error {
	d, err := adoptDevice(provider)
	if err != nil {
		return err
	}
	k, err := newKernels(d)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.use(k)
	slogger().Info("wgpu: switched to shared GPU device")
	return nil
}

func (*provider) SetLogger(l *slog.Logger) { setLogger(l) }
