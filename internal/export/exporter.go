package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/sqlexec"
)

const parquetContentType = "application/octet-stream"

type Exporter struct {
	store  ObjectStore
	logger *slog.Logger
	newID  func() string
}

func NewExporter(store ObjectStore, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, logger: logger, newID: uuid.NewString}
}

// Export archives one successful result set under
// exports/<session>/<message>-<uuid>.parquet and returns the stored
// object. The returned Key is the logical key; store implementations may
// prefix it internally.
func (e *Exporter) Export(ctx context.Context, sessionID, messageID int64, result sqlexec.Result) (ObjectInfo, error) {
	if !result.Success {
		observability.IncResultExport(false)
		return ObjectInfo{}, fmt.Errorf("cannot export a failed execution")
	}

	encoded, err := encodeResultToParquet(result)
	if err != nil {
		observability.IncResultExport(false)
		return ObjectInfo{}, err
	}

	key := fmt.Sprintf("exports/%d/%d-%s.parquet", sessionID, messageID, e.newID())
	start := time.Now()
	info, err := e.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), PutOptions{ContentType: parquetContentType})
	if err != nil {
		observability.IncResultExport(false)
		return ObjectInfo{}, fmt.Errorf("put export object: %w", err)
	}
	info.Key = key

	observability.IncResultExport(true)
	e.logger.Info("result exported",
		slog.String("key", key),
		slog.Int64("rows", encoded.RecordCount),
		slog.Int64("bytes", info.Size),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return info, nil
}

// Open streams a stored export back by its logical key.
func (e *Exporter) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return e.store.Get(ctx, key)
}
