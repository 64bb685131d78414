//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/subd/backend"
)

// device is an open hal device and its queue.
type device struct {
	instance hal.Instance
	dev      hal.Device
	queue    hal.Queue
	name     string
	// external devices belong to the host application and are never
	// destroyed here.
	external bool
}

// openDevice creates a Vulkan instance and opens the first discrete or
// integrated adapter, falling back to the first adapter of any type.
func openDevice() (*device, error) {
	vk, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not registered", backend.ErrNotAvailable)
	}
	instance, err := vk.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", backend.ErrNotAvailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", backend.ErrNotAvailable)
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %w", backend.ErrNotAvailable, err)
	}
	slogger().Info("wgpu: device opened", "adapter", selected.Info.Name, "type", selected.Info.DeviceType)
	return &device{
		instance: instance,
		dev:      open.Device,
		queue:    open.Queue,
		name:     selected.Info.Name,
	}, nil
}

// adoptDevice wraps a host application's device. The provider either
// exposes hal types through HalDevice and HalQueue, or implements
// gpucontext.DeviceProvider with hal types behind Device and Queue.
func adoptDevice(provider any) (*device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}

	var rawDevice, rawQueue any
	name := "external"
	switch p := provider.(type) {
	case halProvider:
		rawDevice, rawQueue = p.HalDevice(), p.HalQueue()
	case gpucontext.DeviceProvider:
		rawDevice, rawQueue = p.Device(), p.Queue()
		info := p.AdapterInfo()
		if info.Type == gpucontext.AdapterTypeSoftware {
			slogger().Warn("wgpu: shared device is a software adapter", "adapter", info.Name)
		}
		if info.Name != "" {
			name = info.Name
		}
	case nil:
		return nil, errors.New("wgpu: nil device provider")
	default:
		return nil, fmt.Errorf("wgpu: provider %T does not expose HAL types", provider)
	}

	dev, ok := rawDevice.(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("wgpu: provider device %T is not hal.Device", rawDevice)
	}
	queue, ok := rawQueue.(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider queue %T is not hal.Queue", rawQueue)
	}
	return &device{dev: dev, queue: queue, name: name, external: true}, nil
}

// destroy releases the device unless it belongs to the host application.
func (d *device) destroy() {
	if d.external {
		return
	}
	if d.dev != nil {
		d.dev.Destroy()
		d.dev = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	d.queue = nil
}

// submit records one command buffer with fn, submits it and blocks until
// the device is idle.
func (d *device) submit(label string, fn func(enc hal.CommandEncoder)) error {
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("wgpu: create encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	fn(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.dev.FreeCommandBuffer(cmd)

	if _, err := d.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return fmt.Errorf("wgpu: submit %s: %w", label, err)
	}
	if err := d.dev.WaitIdle(); err != nil {
		return fmt.Errorf("wgpu: wait %s: %w", label, err)
	}
	return nil
}
