package governance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fixedlend/crypto"
)

func newAddress(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address()
}

func TestRoleSetGrantRevoke(t *testing.T) {
	roles := NewRoleSet()
	alice := newAddress(t)

	require.True(t, roles.Grant(" Lending.Pause ", alice))
	require.False(t, roles.Grant("lending.pause", alice))
	require.True(t, roles.HasRole("LENDING.PAUSE", alice))
	require.Equal(t, []string{alice.String()}, roles.Members("lending.pause"))

	require.True(t, roles.Revoke("lending.pause", alice))
	require.False(t, roles.Revoke("lending.pause", alice))
	require.Empty(t, roles.Members("lending.pause"))
}

func TestRoleSetAuthorized(t *testing.T) {
	roles := NewRoleSet()
	admin := newAddress(t)
	pauser := newAddress(t)
	stranger := newAddress(t)
	roles.Grant(RoleAdmin, admin)
	roles.Grant("lending.pause", pauser)

	require.True(t, roles.Authorized(admin, "lending.enable_market"))
	require.True(t, roles.Authorized(pauser, "lending.pause"))
	require.False(t, roles.Authorized(pauser, "lending.enable_market"))
	require.False(t, roles.Authorized(stranger, "lending.pause"))
	require.False(t, roles.Authorized(crypto.Address{}, "lending.pause"))

	var nilRoles *RoleSet
	require.False(t, nilRoles.Authorized(admin, "lending.pause"))
}
