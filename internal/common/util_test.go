package common

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRandHexString(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "token sized", size: 16},
		{name: "long", size: 32},
		{name: "zero", size: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := MakeRandHexString(tt.size)
			require.NoError(t, err)
			assert.Len(t, s, tt.size*2)
			_, err = hex.DecodeString(s)
			assert.NoError(t, err)
		})
	}
}

func TestMakeRandHexString_Distinct(t *testing.T) {
	a, err := MakeRandHexString(16)
	require.NoError(t, err)
	b, err := MakeRandHexString(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerateRandByteArray(t *testing.T) {
	buf := GenerateRandByteArray(24)
	require.Len(t, buf, 24)
}

func TestWipeByteArray(t *testing.T) {
	buf := []byte("secret password")
	WipeByteArray(buf)
	for i, v := range buf {
		assert.Zerof(t, v, "byte %d not wiped", i)
	}
	assert.NotPanics(t, func() { WipeByteArray(nil) })
}
