package approverd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func TestExportAuditWritesParquet(t *testing.T) {
	store, err := OpenStore(AuditConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	for i, commitment := range []string{"0x01", "0x02", "0x03"} {
		require.NoError(t, store.Record(ctx, &Issuance{
			Client:     "wallet-backend",
			Commitment: commitment,
			Signature:  "0xsig",
			Approver:   "0xapprover",
			Timestamp:  uint64(base.Unix()),
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	path := filepath.Join(t.TempDir(), "exports", "audit.parquet")
	n, err := ExportAudit(ctx, store, path, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(issuanceRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.EqualValues(t, 2, pr.GetNumRows())

	rows := make([]issuanceRow, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "0x02", rows[0].Commitment)
	require.Equal(t, "wallet-backend", rows[1].Client)
}

func TestExportAuditRequiresStore(t *testing.T) {
	_, err := ExportAudit(context.Background(), nil, filepath.Join(t.TempDir(), "x.parquet"), time.Time{})
	require.Error(t, err)
}
