package waljs

import (
	"fmt"

	"github.com/datazip-inc/olake-scaling/pkg/jdbc"
	"github.com/jackc/pgx/v5/pgtype"
)

// Decoder converts pgoutput text encoded column values into Go values
type Decoder struct {
	typeMap *pgtype.Map
}

func NewDecoder() *Decoder {
	return &Decoder{typeMap: pgtype.NewMap()}
}

// Decode decodes a text encoded value of the given type. Types without a
// scalar Go equivalent (numeric, json, uuid, arrays) are kept as text so
// they reach the target the way it was written on the source.
func (d *Decoder) Decode(data []byte, oid uint32) (any, error) {
	if data == nil {
		return nil, nil
	}

	switch oid {
	case pgtype.BoolOID, pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.ByteaOID,
		pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
	default:
		return string(data), nil
	}

	dt, ok := d.typeMap.TypeForOID(oid)
	if !ok {
		return string(data), nil
	}
	value, err := dt.Codec.DecodeValue(d.typeMap, oid, pgtype.TextFormatCode, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode value of type oid[%d]: %s", oid, err)
	}
	return jdbc.NormalizeValue(value, "")
}
