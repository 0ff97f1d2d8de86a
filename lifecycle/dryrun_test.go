package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryRunDirectory_Roundtrip(t *testing.T) {
	d := NewDryRunDirectory(nil)
	ctx := context.Background()

	missing, err := d.FindByBusinessID(ctx, "E1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := d.CreateUser(ctx, NewDirectoryUser{
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Email:      "ada.lovelace@example.com",
		BusinessID: "E1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	found, err := d.FindByEmail(ctx, "ada.lovelace@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	require.NoError(t, d.DisableUser(ctx, created.ID))
	found, err = d.FindByBusinessID(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.Disabled)

	require.NoError(t, d.DeleteUser(ctx, created.ID))
	gone, err := d.FindByBusinessID(ctx, "E1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
