package store

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/schema"
)

// encodedRow is a row in both journal representations.
type encodedRow struct {
	key  []byte // binary primary key, or the whole binary row for keyless tables
	doc  string // canonical JSON
	data []byte // snappy-compressed binary row
}

func encodeRow(def *schema.TableDef, rowType ir.Type, row ir.Struct) (encodedRow, error) {
	raw, err := ir.Encode(rowType, row)
	if err != nil {
		return encodedRow{}, fmt.Errorf("encode %s row: %w", def.Name, err)
	}
	doc, err := ir.MarshalCanonical(rowType, row)
	if err != nil {
		return encodedRow{}, fmt.Errorf("marshal %s row: %w", def.Name, err)
	}

	key := raw
	if pk := def.PrimaryKeyIndex(); pk >= 0 {
		key, err = ir.Encode(def.Columns[pk].Type, row[pk])
		if err != nil {
			return encodedRow{}, fmt.Errorf("encode %s key: %w", def.Name, err)
		}
	}

	return encodedRow{
		key:  key,
		doc:  string(doc),
		data: snappy.Encode(nil, raw),
	}, nil
}

func decodeRow(def *schema.TableDef, rowType ir.Type, data []byte) (ir.Struct, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress %s row: %w", def.Name, err)
	}
	v, err := ir.Decode(rowType, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s row: %w", def.Name, err)
	}
	row, ok := v.(ir.Struct)
	if !ok {
		return nil, fmt.Errorf("decode %s row: got %s", def.Name, v.Kind())
	}
	return row, nil
}

func rowFromDoc(def *schema.TableDef, rowType ir.Type, doc string) (ir.Struct, error) {
	v, err := ir.FromJSON(rowType, []byte(doc))
	if err != nil {
		return nil, fmt.Errorf("parse %s row: %w", def.Name, err)
	}
	row, ok := v.(ir.Struct)
	if !ok {
		return nil, fmt.Errorf("parse %s row: got %s", def.Name, v.Kind())
	}
	return row, nil
}
