package profile_test

import (
	"testing"

	"github.com/meridianid/meridian-go/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFile = `
default: work
profiles:
  work:
    authority: https://login.example.com/tenant-1
    client_id: client-1
    scopes: [user.read, mail.read]
  personal:
    authority: https://login.example.com/consumers
    client_id: client-2
  broken:
    authority: http://insecure.example.com/tenant
    client_id: client-3
`

func TestParseAndGet(t *testing.T) {
	store, err := profile.Parse([]byte(validFile))
	require.NoError(t, err)

	conn, err := store.Get("work")
	require.NoError(t, err)
	assert.Equal(t, "client-1", conn.ClientID)
	assert.Equal(t, []string{"user.read", "mail.read"}, conn.Scopes)
}

func TestGetDefault(t *testing.T) {
	store, err := profile.Parse([]byte(validFile))
	require.NoError(t, err)

	conn, err := store.Get("")
	require.NoError(t, err)
	assert.Equal(t, "client-1", conn.ClientID)
}

func TestGetUnknown(t *testing.T) {
	store, err := profile.Parse([]byte(validFile))
	require.NoError(t, err)

	_, err = store.Get("missing")
	var notFound profile.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Name)
}

func TestInvalidProfileFailsOnlyItself(t *testing.T) {
	store, err := profile.Parse([]byte(validFile))
	require.NoError(t, err)

	_, err = store.Get("broken")
	var unavailable profile.UnavailableError
	require.ErrorAs(t, err, &unavailable)

	// siblings are unaffected
	_, err = store.Get("personal")
	assert.NoError(t, err)
}

func TestUndefinedDefaultRejected(t *testing.T) {
	_, err := profile.Parse([]byte("default: nope\nprofiles: {}\n"))
	assert.ErrorContains(t, err, "default profile")
}

func TestMalformedYAML(t *testing.T) {
	_, err := profile.Parse([]byte("profiles: ["))
	assert.Error(t, err)
}
