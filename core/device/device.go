package device

import (
	"regexp"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/gpu"
	"github.com/jaypipes/ghw/pkg/pci"

	"sam3d-worker/config"
	"sam3d-worker/core/models"
)

var reNvidia = regexp.MustCompile("(?i)nvidia")
var reDisplayController = regexp.MustCompile("(?i)display ?controller")

// Hooks for tests; hardware probing is not available in CI.
var getGPU = getGPUDefault
var getPCI = getPCIDefault

func getGPUDefault() ([]*gpu.GraphicsCard, error) {
	info, err := ghw.GPU()
	if err != nil {
		return nil, err
	}
	return info.GraphicsCards, nil
}

func getPCIDefault() ([]*pci.Device, error) {
	info, err := ghw.PCI()
	if err != nil {
		return nil, err
	}
	return info.ListDevices(), nil
}

// Init verifies that the requested accelerator is usable before any model
// weights are pulled onto it. CPU mode skips the probe; CUDA mode requires at
// least one visible NVIDIA device and returns a DeviceError otherwise. The
// worker never falls back to CPU silently.
func Init(dev config.Device) (int, error) {
	if dev == config.DeviceCPU {
		return 0, nil
	}

	count, err := countNvidiaDevices()
	if err != nil {
		return 0, models.NewDeviceError("GPU probe failed: %v", err)
	}
	if count == 0 {
		return 0, models.NewDeviceError("no NVIDIA device visible; set DEVICE=cpu to run without an accelerator")
	}
	return count, nil
}

func countNvidiaDevices() (int, error) {
	cards, err := getGPU()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, card := range cards {
		if card.DeviceInfo != nil && card.DeviceInfo.Vendor != nil && reNvidia.MatchString(card.DeviceInfo.Vendor.Name) {
			count++
		}
	}
	if count > 0 {
		return count, nil
	}

	// On VMs gpu.GraphicsCards may be empty; fall back to the PCI listing.
	devices, err := getPCI()
	if err != nil {
		return 0, err
	}
	for _, dev := range devices {
		if dev.Vendor == nil || !reNvidia.MatchString(dev.Vendor.Name) {
			continue
		}
		if reNvidia.MatchString(dev.Driver) || (dev.Class != nil && reDisplayController.MatchString(dev.Class.Name)) {
			count++
		}
	}
	return count, nil
}
