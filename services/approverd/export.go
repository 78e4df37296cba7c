package approverd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type issuanceRow struct {
	ID               string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Client           string `parquet:"name=client, type=BYTE_ARRAY, convertedtype=UTF8"`
	User             string `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8"`
	VerificationType int32  `parquet:"name=verification_type, type=INT32"`
	Referrer         string `parquet:"name=referrer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp        int64  `parquet:"name=timestamp, type=INT64"`
	Commitment       string `parquet:"name=commitment, type=BYTE_ARRAY, convertedtype=UTF8"`
	Signature        string `parquet:"name=signature, type=BYTE_ARRAY, convertedtype=UTF8"`
	Approver         string `parquet:"name=approver, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt        string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportAudit writes every issuance created at or after since to a
// snappy-compressed parquet file and returns the number of rows written.
func ExportAudit(ctx context.Context, store *Store, path string, since time.Time) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("audit store required")
	}
	rows, err := store.Since(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("load issuances: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("prepare export dir: %w", err)
		}
	}
	if err := writeIssuanceParquet(path, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func writeIssuanceParquet(path string, rows []Issuance) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(issuanceRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		out := &issuanceRow{
			ID:               row.ID.String(),
			Client:           row.Client,
			User:             row.User,
			VerificationType: int32(row.VerificationType),
			Referrer:         row.Referrer,
			Timestamp:        int64(row.Timestamp),
			Commitment:       row.Commitment,
			Signature:        row.Signature,
			Approver:         row.Approver,
			CreatedAt:        row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(out); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close parquet file: %w", err)
	}
	return nil
}
