package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginerrors"
)

func valid() *manifest.Manifest {
	return &manifest.Manifest{
		ID:         "com.example.logger",
		Name:       "Logger",
		Version:    "1.0.0",
		APIVersion: 1,
	}
}

func TestValidateOK(t *testing.T) {
	m := valid()
	require.NoError(t, m.Validate(1))
}

func TestValidateEmptyID(t *testing.T) {
	m := valid()
	m.ID = ""
	err := m.Validate(1)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindInvalidManifest))
}

func TestValidateEmptyName(t *testing.T) {
	m := valid()
	m.Name = ""
	require.Error(t, m.Validate(1))
}

func TestValidateAPIVersionMismatch(t *testing.T) {
	m := valid()
	m.APIVersion = 2
	err := m.Validate(1)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindInvalidManifest))
}

func TestValidateBadVersion(t *testing.T) {
	m := valid()
	m.Version = "not-a-version"
	require.Error(t, m.Validate(1))
}

func TestValidateVersionRangeInverted(t *testing.T) {
	m := valid()
	m.ZigVersionMin = "2.0.0"
	m.ZigVersionMax = "1.0.0"
	require.Error(t, m.Validate(1))
}

func TestValidateVersionRangeOK(t *testing.T) {
	m := valid()
	m.ZigVersionMin = "1.0.0"
	m.ZigVersionMax = "2.0.0"
	require.NoError(t, m.Validate(1))
}

func TestValidateUnknownPermission(t *testing.T) {
	m := valid()
	m.RequiredPermissions = []manifest.Permission{"not_a_real_permission"}
	require.Error(t, m.Validate(1))
}

func TestValidateDecodesCapabilities(t *testing.T) {
	m := valid()
	m.CapabilitiesRaw = uint32(manifest.CapHTTPHandlers | manifest.CapScheduler)
	require.NoError(t, m.Validate(1))
	require.True(t, m.Capabilities.Has(manifest.CapHTTPHandlers))
	require.True(t, m.Capabilities.Has(manifest.CapScheduler))
	require.False(t, m.Capabilities.Has(manifest.CapWebsocket))
}

func TestValidateRejectsReservedCapabilityBits(t *testing.T) {
	m := valid()
	m.CapabilitiesRaw = 1 << 31
	require.Error(t, m.Validate(1))
}
