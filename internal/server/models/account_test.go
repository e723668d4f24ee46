package models

import (
	"testing"

	"github.com/Fides-Storage/Server-sub000/internal/common"

	"github.com/stretchr/testify/assert"
)

func TestAccount_BlobSetStaysSorted(t *testing.T) {
	a := &Account{}
	a.AddBlob("c")
	a.AddBlob("a")
	a.AddBlob("b")
	a.AddBlob("a")
	assert.Equal(t, []string{"a", "b", "c"}, a.OwnedBlobs)

	assert.True(t, a.Owns("b"))
	assert.False(t, a.Owns("d"))

	assert.True(t, a.RemoveBlob("b"))
	assert.False(t, a.RemoveBlob("b"))
	assert.Equal(t, []string{"a", "c"}, a.OwnedBlobs)
}

func TestAccount_KeyBlobIsNotOwned(t *testing.T) {
	a := &Account{KeyBlobID: "k"}
	assert.False(t, a.Owns("k"))
}

func TestAccount_CloneIsDeep(t *testing.T) {
	a := &Account{ID: "x", OwnedBlobs: []string{"a"}, QuotaUsed: 5}
	c := a.Clone()
	c.AddBlob("b")
	c.QuotaUsed = 9

	assert.Equal(t, []string{"a"}, a.OwnedBlobs)
	assert.Equal(t, int64(5), a.QuotaUsed)
}

func TestAccount_NormalizeBlobs(t *testing.T) {
	a := &Account{OwnedBlobs: []string{"b", "a", "b"}}
	a.NormalizeBlobs()
	assert.Equal(t, []string{"a", "b"}, a.OwnedBlobs)
}

func TestValidateAccountID(t *testing.T) {
	good := "2bd806c97f0e00af1a1fc3328fa763a9269723c8db8fac4f93af71db186d6e90"
	assert.NoError(t, ValidateAccountID(good))
	for _, bad := range []string{"", "../x", good[:63], "2BD806C97F0E00AF1A1FC3328FA763A9269723C8DB8FAC4F93AF71DB186D6E90", good[:63] + "/"} {
		assert.ErrorIs(t, ValidateAccountID(bad), common.ErrorValidation, bad)
	}
}
