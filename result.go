package arrowpg

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

// BatchReader is the subset of array.RecordReader the encoder consumes.
// A record returned by Record is only used until the next call to Next.
type BatchReader interface {
	Schema() *arrow.Schema
	Next() bool
	Record() arrow.Record
	Err() error
}

// FieldDescriptions describes every column of schema for a RowDescription.
// It fails on the first column whose type has no wire equivalent.
func FieldDescriptions(schema *arrow.Schema, format Format) ([]pgproto3.FieldDescription, error) {
	fields := make([]pgproto3.FieldDescription, schema.NumFields())
	for i, f := range schema.Fields() {
		oid, err := MapType(f.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(f.Name),
			DataTypeOID:  oid,
			DataTypeSize: TypeSize(oid),
			TypeModifier: -1,
			Format:       format.FormatFor(i),
		}
	}
	return fields, nil
}

// ResultEncoder turns batches of a fixed schema into DataRows. Field
// descriptors are computed once and shared by every row.
type ResultEncoder struct {
	schema  *arrow.Schema
	fields  []pgproto3.FieldDescription
	cells   *CellEncoder
	typeMap *pgtype.Map
	logger  *slog.Logger
}

// NewResultEncoder prepares an encoder for schema with the given result formats.
func NewResultEncoder(schema *arrow.Schema, format Format, opts ...Option) (*ResultEncoder, error) {
	cfg := newConfig(opts)
	fields, err := FieldDescriptions(schema, format)
	if err != nil {
		return nil, err
	}
	return &ResultEncoder{
		schema:  schema,
		fields:  fields,
		cells:   &CellEncoder{loadZone: cfg.loadZone},
		typeMap: cfg.typeMap,
		logger:  cfg.logger,
	}, nil
}

// Schema returns the schema the encoder was built for.
func (e *ResultEncoder) Schema() *arrow.Schema {
	return e.schema
}

// Fields returns the field descriptors. Callers must not modify them.
func (e *ResultEncoder) Fields() []pgproto3.FieldDescription {
	return e.fields
}

// RowDescription returns the message announcing the result columns.
func (e *ResultEncoder) RowDescription() *pgproto3.RowDescription {
	return &pgproto3.RowDescription{Fields: e.fields}
}

// EncodeRow encodes one row of rec.
func (e *ResultEncoder) EncodeRow(rec arrow.Record, row int) (*pgproto3.DataRow, error) {
	if int(rec.NumCols()) != len(e.fields) {
		return nil, fmt.Errorf("record has %d columns, expected %d", rec.NumCols(), len(e.fields))
	}
	enc := NewDataRowEncoder(e.fields, e.typeMap)
	for _, col := range rec.Columns() {
		var err error
		if col.IsNull(row) {
			err = enc.EncodeField(nil)
		} else {
			err = e.cells.EncodeCell(enc, col, row)
		}
		if err != nil {
			return nil, err
		}
	}
	return enc.Finish()
}

// Rows returns the rows of every batch of reader in order.
//
// A row that fails to encode is yielded as an error in its place and the
// sequence continues with the next row. A reader failure, or cancellation of
// ctx, is yielded as a single *APIError that ends the sequence. Batches are
// pulled on demand; stopping the iteration stops reading.
func (e *ResultEncoder) Rows(ctx context.Context, reader BatchReader) iter.Seq2[*pgproto3.DataRow, error] {
	return func(yield func(*pgproto3.DataRow, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, &APIError{Op: "read batch", Err: err})
				return
			}
			if !reader.Next() {
				if err := reader.Err(); err != nil {
					e.logger.Warn("batch reader failed", slog.Any("error", err))
					yield(nil, &APIError{Op: "read batch", Err: err})
				}
				return
			}

			rec := reader.Record()
			for row := range int(rec.NumRows()) {
				dr, err := e.EncodeRow(rec, row)
				if err != nil {
					e.logger.Debug("row encoding failed", slog.Int("row", row), slog.Any("error", err))
				}
				if !yield(dr, err) {
					return
				}
			}
		}
	}
}

// QueryResponse is a result set ready to be written to a client: the column
// descriptors followed by a lazily produced sequence of rows.
type QueryResponse struct {
	Fields []pgproto3.FieldDescription
	Rows   iter.Seq2[*pgproto3.DataRow, error]
}

// EncodeBatchStream describes the schema of reader and returns its rows as a
// lazy sequence. Descriptor errors are returned before any row is read.
func EncodeBatchStream(ctx context.Context, reader BatchReader, format Format, opts ...Option) (*QueryResponse, error) {
	enc, err := NewResultEncoder(reader.Schema(), format, opts...)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{
		Fields: enc.Fields(),
		Rows:   enc.Rows(ctx, reader),
	}, nil
}
