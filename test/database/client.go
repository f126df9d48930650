// Package database provides test helpers that stand up an isolated
// PostgreSQL schema per test and wrap it in a ready-to-use *store.Store.
package database

import (
	"context"
	"testing"

	"github.com/harrowgate/conductor/pkg/store"
	"github.com/harrowgate/conductor/test/util"
	"github.com/stretchr/testify/require"
)

// NewTestStore creates a fresh PostgreSQL schema (in CI, against
// CI_DATABASE_URL; locally, against a shared testcontainer spun up once per
// package), runs Conductor's migrations against it, and returns a ready
// *store.Store. The schema is dropped and the pool closed via t.Cleanup.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	baseConnStr := util.GetBaseConnectionString(t)
	schemaName := util.GenerateSchemaName(t)
	util.CreateSchema(t, baseConnStr, schemaName)

	connStrWithSchema := util.AddSearchPathToConnString(baseConnStr, schemaName)
	st, err := store.New(ctx, store.Config{RawDSN: connStrWithSchema, MaxOpenConns: 10, MaxIdleConns: 5})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = st.Close()
		util.DropSchema(t, baseConnStr, schemaName)
	})

	return st
}
