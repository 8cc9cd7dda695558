package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/loanledger/internal/config"
	"github.com/punchamoorthee/loanledger/internal/domain"
	"github.com/punchamoorthee/loanledger/internal/store"
	"github.com/punchamoorthee/loanledger/internal/store/memstore"
)

func Test_OpenEngine_Memory(t *testing.T) {
	engine, err := OpenEngine(context.Background(), &config.Config{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, engine)
}

func Test_OpenEngine_SQLite_MigratesSchema(t *testing.T) {
	cfg := &config.Config{
		Driver:      config.DriverSQLite,
		DBSource:    filepath.Join(t.TempDir(), "loans.db"),
		DBMaxConns:  4,
		LockTimeout: time.Second,
		Policy:      domain.DefaultPolicy(),
	}

	engine, err := OpenEngine(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	assert.IsType(t, &store.SQLStore{}, engine)
	_, err = engine.GetBook(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
}

func Test_OpenEngine_UnknownDriver(t *testing.T) {
	_, err := OpenEngine(context.Background(), &config.Config{Driver: "mongo"})
	assert.Error(t, err)
}
