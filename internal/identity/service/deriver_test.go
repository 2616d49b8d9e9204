package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "redpocket/pkg/domain"
)

const (
	testFactory      = "0x4e59b44847b379578588920cA78FbF26c0B4956C"
	testInitCodeHash = "21c35dbe1b344a2488cf3321d6ce542f8e9f305544ff09e4993a62319a497c1f"
)

func TestCounterfactualDeriver_Deterministic(t *testing.T) {
	d, err := NewCounterfactualDeriver(testFactory, testInitCodeHash)
	require.NoError(t, err)

	first, err := d.Derive(id.PlatformTelegram, "12345")
	require.NoError(t, err)
	second, err := d.Derive(id.PlatformTelegram, "12345")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.True(t, strings.HasPrefix(first, "0x"))
	assert.Len(t, first, 42)
}

func TestCounterfactualDeriver_DistinctInputsDistinctAddresses(t *testing.T) {
	d, err := NewCounterfactualDeriver(testFactory, testInitCodeHash)
	require.NoError(t, err)

	a, err := d.Derive(id.PlatformTelegram, "12345")
	require.NoError(t, err)
	b, err := d.Derive(id.PlatformDiscord, "12345")
	require.NoError(t, err)
	c, err := d.Derive(id.PlatformTelegram, "54321")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}

func TestNewCounterfactualDeriver_Validation(t *testing.T) {
	_, err := NewCounterfactualDeriver("not-an-address", testInitCodeHash)
	assert.Error(t, err)

	_, err = NewCounterfactualDeriver(testFactory, "abcd")
	assert.Error(t, err)

	_, err = NewCounterfactualDeriver(testFactory, "zz"+testInitCodeHash[2:])
	assert.Error(t, err)
}
