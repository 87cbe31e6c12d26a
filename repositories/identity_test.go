package repositories

import (
	"context"
	"testing"

	db "github.com/mama165/sdk-go/database"
	"github.com/stretchr/testify/require"
)

func TestGuestIdentities_StablePerDisplayName(t *testing.T) {
	req := require.New(t)
	ctx, log, badgerDB, blugeWriter, err := db.SetupBenchmark(t.TempDir())
	req.NoError(err)
	defer db.CleanupDB(badgerDB, blugeWriter)

	ids := NewGuestIdentities(badgerDB, log)

	first, err := ids.Resolve(ctx, "conn-1", "alice")
	req.NoError(err)
	req.NotEmpty(first.ID)

	// Reconnecting under the same name keeps the identity, whatever the
	// connection id.
	second, err := ids.Resolve(ctx, "conn-2", "alice")
	req.NoError(err)
	req.Equal(first.ID, second.ID)

	other, err := ids.Resolve(ctx, "conn-3", "bob")
	req.NoError(err)
	req.NotEqual(first.ID, other.ID)
}

func TestEphemeralIdentities_FreshPerConnection(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ids := NewEphemeralIdentities()

	first, err := ids.Resolve(ctx, "conn-1", "alice")
	req.NoError(err)

	// Same connection resolves to the same identity.
	same, err := ids.Resolve(ctx, "conn-1", "alice")
	req.NoError(err)
	req.Equal(first.ID, same.ID)

	// A new connection under the same name is a different guest.
	reconnect, err := ids.Resolve(ctx, "conn-2", "alice")
	req.NoError(err)
	req.NotEqual(first.ID, reconnect.ID)

	// Forget releases the binding; the next resolve mints a fresh identity.
	ids.Forget("conn-1")
	after, err := ids.Resolve(ctx, "conn-1", "alice")
	req.NoError(err)
	req.NotEqual(first.ID, after.ID)
}
