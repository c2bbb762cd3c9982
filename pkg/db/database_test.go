package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteInMemory(t *testing.T) {
	gdb, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, gdb.Exec("SELECT 1").Error)
	require.NoError(t, Close(gdb))
}

func TestOpenRejectsEmptyDSNAndUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), DriverSQLite, "")
	require.Error(t, err)

	_, err = Open(context.Background(), "mysql", "dsn")
	require.Error(t, err)
}
