package export

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/sqlexec"
)

type fakeStore struct {
	lastKey         string
	lastSize        int64
	lastContentType string
	putErr          error
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error) {
	if f.putErr != nil {
		return ObjectInfo{}, f.putErr
	}
	f.lastKey = key
	f.lastSize = size
	f.lastContentType = opts.ContentType
	// Stores may return a prefixed key; Export must keep the logical one.
	return ObjectInfo{Key: "askdb/prod/" + key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.lastKey = key
	return io.NopCloser(strings.NewReader("payload")), nil
}

func successResult() sqlexec.Result {
	return sqlexec.Result{
		Success:  true,
		Columns:  []string{"count"},
		Rows:     []map[string]any{{"count": int64(42)}},
		RowCount: 1,
	}
}

func TestExport(t *testing.T) {
	store := &fakeStore{}
	e := NewExporter(store, nil)
	e.newID = func() string { return "0f0e0d0c-0b0a-0908-0706-050403020100" }

	info, err := e.Export(context.Background(), 7, 11, successResult())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	wantKey := "exports/7/11-0f0e0d0c-0b0a-0908-0706-050403020100.parquet"
	if store.lastKey != wantKey {
		t.Fatalf("Export() key = %q, want %q", store.lastKey, wantKey)
	}
	if info.Key != wantKey {
		t.Fatalf("Export() returned key = %q, want the logical key", info.Key)
	}
	if store.lastContentType != "application/octet-stream" {
		t.Fatalf("Export() content type = %q", store.lastContentType)
	}
	if store.lastSize == 0 || info.Size != store.lastSize {
		t.Fatalf("Export() size = %d/%d", store.lastSize, info.Size)
	}
}

func TestExportRejectsFailedExecution(t *testing.T) {
	e := NewExporter(&fakeStore{}, nil)

	_, err := e.Export(context.Background(), 1, 2, sqlexec.Result{Success: false, Error: "boom"})
	if err == nil || !strings.Contains(err.Error(), "failed execution") {
		t.Fatalf("Export() error = %v", err)
	}
}

func TestExportPropagatesStoreError(t *testing.T) {
	e := NewExporter(&fakeStore{putErr: io.ErrClosedPipe}, nil)

	_, err := e.Export(context.Background(), 1, 2, successResult())
	if err == nil || !strings.Contains(err.Error(), "put export object") {
		t.Fatalf("Export() error = %v", err)
	}
}

func TestOpen(t *testing.T) {
	store := &fakeStore{}
	e := NewExporter(store, nil)

	reader, err := e.Open(context.Background(), "exports/7/11-abc.parquet")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	if store.lastKey != "exports/7/11-abc.parquet" {
		t.Fatalf("Open() key = %q", store.lastKey)
	}
}
