package persistadapter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Signature derives a stable identity for an IndexSpec: two specs with the
// same fields in the same order always produce the same signature, which is
// what the adapter uses both as the _tsdb_index primary key component and as
// the physical SQL index name suffix.
func (s IndexSpec) Signature() string {
	type wireField struct {
		Path string `json:"path"`
		Desc bool   `json:"desc"`
	}
	wire := make([]wireField, len(s.Fields))
	for i, f := range s.Fields {
		wire[i] = wireField{Path: f.Path, Desc: f.Desc}
	}
	raw, _ := json.Marshal(wire) // wireField is always marshalable
	sum := sha256.Sum256(raw)
	return "idx_" + hex.EncodeToString(sum[:8])
}

// physicalIndexName is the SQL identifier for the index backing spec on
// rowsTable. It's derived, not caller-supplied, so it's always SQL-safe.
func physicalIndexName(rowsTable, signature string) string {
	return rowsTable + "_" + signature
}

// createIndexDDL builds the CREATE INDEX statement for spec over rowsTable.
// Fields address the row's JSON value via json_extract; SQLite indexes
// expression results directly.
func createIndexDDL(rowsTable, signature string, spec IndexSpec) string {
	var cols []string
	for _, f := range spec.Fields {
		expr := fmt.Sprintf("json_extract(value, '$.%s')", f.Path)
		if f.Desc {
			expr += " DESC"
		}
		cols = append(cols, expr)
	}
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		physicalIndexName(rowsTable, signature), rowsTable, strings.Join(cols, ", "),
	)
}

func dropIndexDDL(rowsTable, signature string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s", physicalIndexName(rowsTable, signature))
}

func marshalIndexSpec(spec IndexSpec) (string, error) {
	raw, err := json.Marshal(spec.Fields)
	if err != nil {
		return "", fmt.Errorf("marshal index spec: %w", err)
	}
	return string(raw), nil
}

func unmarshalIndexSpec(raw string) (IndexSpec, error) {
	var fields []IndexField
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return IndexSpec{}, fmt.Errorf("unmarshal index spec: %w", err)
	}
	return IndexSpec{Fields: fields}, nil
}
