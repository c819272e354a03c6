package device

import (
	"errors"
	"testing"

	"github.com/jaypipes/ghw/pkg/gpu"
	"github.com/jaypipes/ghw/pkg/pci"
	"github.com/jaypipes/pcidb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sam3d-worker/config"
	"sam3d-worker/core/models"
)

func stubGPU(t *testing.T, cards []*gpu.GraphicsCard, err error) {
	t.Helper()
	prev := getGPU
	getGPU = func() ([]*gpu.GraphicsCard, error) { return cards, err }
	t.Cleanup(func() { getGPU = prev })
}

func stubPCI(t *testing.T, devices []*pci.Device, err error) {
	t.Helper()
	prev := getPCI
	getPCI = func() ([]*pci.Device, error) { return devices, err }
	t.Cleanup(func() { getPCI = prev })
}

func nvidiaCard() *gpu.GraphicsCard {
	return &gpu.GraphicsCard{
		DeviceInfo: &pci.Device{
			Vendor: &pcidb.Vendor{Name: "NVIDIA Corporation"},
		},
	}
}

func TestInitCPUSkipsProbe(t *testing.T) {
	stubGPU(t, nil, errors.New("probe must not run"))

	_, err := Init(config.DeviceCPU)
	require.NoError(t, err)
}

func TestInitCUDAWithNvidiaCard(t *testing.T) {
	stubGPU(t, []*gpu.GraphicsCard{nvidiaCard()}, nil)

	count, err := Init(config.DeviceCUDA)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInitCUDANoDevices(t *testing.T) {
	stubGPU(t, nil, nil)
	stubPCI(t, nil, nil)

	_, err := Init(config.DeviceCUDA)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindDevice, models.Kind(err))
}

func TestInitCUDAPCIFallback(t *testing.T) {
	stubGPU(t, nil, nil)
	stubPCI(t, []*pci.Device{
		{
			Vendor: &pcidb.Vendor{Name: "NVIDIA Corporation"},
			Driver: "nvidia",
			Class:  &pcidb.Class{Name: "Display controller"},
		},
	}, nil)

	count, err := Init(config.DeviceCUDA)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInitCUDAProbeError(t *testing.T) {
	stubGPU(t, nil, errors.New("sysfs unavailable"))

	_, err := Init(config.DeviceCUDA)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindDevice, models.Kind(err))
}
