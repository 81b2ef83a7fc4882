package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/sqlexec"
)

// resultRow is the stable Parquet schema for arbitrary result sets. Cell
// values stay JSON so heterogeneous column types survive the round trip.
type resultRow struct {
	RowIndex   int64  `parquet:"row_index"`
	ValuesJSON string `parquet:"values_json"`
}

type EncodeResult struct {
	Data        []byte
	RecordCount int64
}

func encodeResultToParquet(result sqlexec.Result) (EncodeResult, error) {
	if len(result.Rows) == 0 {
		return EncodeResult{}, fmt.Errorf("result has no rows")
	}

	rows := make([]resultRow, 0, len(result.Rows))
	for i, row := range result.Rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("marshal row %d: %w", i, err)
		}
		rows = append(rows, resultRow{RowIndex: int64(i), ValuesJSON: string(payload)})
	}

	columnsJSON, err := json.Marshal(result.Columns)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("marshal column names: %w", err)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[resultRow](buf, parquet.KeyValueMetadata("columns", string(columnsJSON)))
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return EncodeResult{Data: buf.Bytes(), RecordCount: int64(len(rows))}, nil
}
