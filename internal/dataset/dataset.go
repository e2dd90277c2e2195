package dataset

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Column describes a single column of a dataset snapshot.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Dataset is the metadata of one uploaded Parquet snapshot.
type Dataset struct {
	ID        string    `json:"id"`
	SizeBytes int64     `json:"size_bytes"`
	RowCount  int64     `json:"row_count"`
	Columns   []Column  `json:"columns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SchemaSummary renders the column list as one "name (TYPE)" line per
// column, the form the prompt builder embeds into schema context.
func (d Dataset) SchemaSummary() string {
	lines := make([]string, 0, len(d.Columns))
	for _, column := range d.Columns {
		lines = append(lines, fmt.Sprintf("- %s (%s)", column.Name, column.Type))
	}
	return strings.Join(lines, "\n")
}

// DescribeSnapshot reads the Parquet footer of an in-memory snapshot
// and returns its column schema and row count.
func DescribeSnapshot(data []byte) ([]Column, int64, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("snapshot is empty")
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("open parquet snapshot: %w", err)
	}

	fields := file.Schema().Fields()
	columns := make([]Column, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, Column{
			Name: field.Name(),
			Type: field.Type().String(),
		})
	}
	return columns, file.NumRows(), nil
}
