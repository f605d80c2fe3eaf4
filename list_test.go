package arrowpg_test

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/fwojciec/arrowpg"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCellListInt64(t *testing.T) {
	t.Parallel()
	mem := checkedAllocator(t)

	// [[1, null, 3], [], null, [4]]
	b := array.NewListBuilder(mem, arrow.PrimitiveTypes.Int64)
	defer b.Release()
	vb := b.ValueBuilder().(*array.Int64Builder)
	b.Append(true)
	vb.Append(1)
	vb.AppendNull()
	vb.Append(3)
	b.Append(true)
	b.AppendNull()
	b.Append(true)
	vb.Append(4)
	arr := b.NewArray()
	defer arr.Release()

	enc := arrowpg.NewCellEncoder()
	sink := &recordingSink{}
	for _, row := range []int{0, 1, 3} {
		require.NoError(t, enc.EncodeCell(sink, arr, row))
	}

	require.Len(t, sink.values, 3)
	assert.Equal(t, []*int64{ptr[int64](1), nil, ptr[int64](3)}, sink.values[0])
	assert.Equal(t, []*int64{}, sink.values[1])
	assert.Equal(t, []*int64{ptr[int64](4)}, sink.values[2])
}

func TestEncodeCellListVariants(t *testing.T) {
	t.Parallel()
	mem := checkedAllocator(t)

	t.Run("large_list_of_strings", func(t *testing.T) {
		t.Parallel()
		b := array.NewLargeListBuilder(mem, arrow.BinaryTypes.String)
		defer b.Release()
		vb := b.ValueBuilder().(*array.StringBuilder)
		b.Append(true)
		vb.Append("a")
		vb.AppendNull()
		vb.Append("")
		arr := b.NewArray()
		defer arr.Release()

		sink := &recordingSink{}
		require.NoError(t, arrowpg.NewCellEncoder().EncodeCell(sink, arr, 0))
		assert.Equal(t, []*string{ptr("a"), nil, ptr("")}, sink.values[0])
	})

	t.Run("fixed_size_list_of_uint16", func(t *testing.T) {
		t.Parallel()
		b := array.NewFixedSizeListBuilder(mem, 2, arrow.PrimitiveTypes.Uint16)
		defer b.Release()
		vb := b.ValueBuilder().(*array.Uint16Builder)
		b.Append(true)
		vb.Append(1)
		vb.Append(65535)
		b.Append(true)
		vb.AppendNull()
		vb.Append(7)
		arr := b.NewArray()
		defer arr.Release()

		sink := &recordingSink{}
		enc := arrowpg.NewCellEncoder()
		require.NoError(t, enc.EncodeCell(sink, arr, 0))
		require.NoError(t, enc.EncodeCell(sink, arr, 1))
		assert.Equal(t, []*int16{ptr[int16](1), ptr[int16](-1)}, sink.values[0])
		assert.Equal(t, []*int16{nil, ptr[int16](7)}, sink.values[1])
	})

	t.Run("list_of_binary", func(t *testing.T) {
		t.Parallel()
		b := array.NewListBuilder(mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		vb := b.ValueBuilder().(*array.BinaryBuilder)
		b.Append(true)
		vb.Append([]byte{0x01})
		vb.AppendNull()
		vb.Append([]byte{})
		arr := b.NewArray()
		defer arr.Release()

		sink := &recordingSink{}
		require.NoError(t, arrowpg.NewCellEncoder().EncodeCell(sink, arr, 0))
		got := sink.values[0].([][]byte)
		require.Len(t, got, 3)
		assert.Equal(t, []byte{0x01}, got[0])
		assert.Nil(t, got[1])
		assert.NotNil(t, got[2])
		assert.Empty(t, got[2])
	})

	t.Run("list_of_string_view", func(t *testing.T) {
		t.Parallel()
		b := array.NewListBuilder(mem, arrow.BinaryTypes.StringView)
		defer b.Release()
		vb := b.ValueBuilder().(*array.StringViewBuilder)
		b.Append(true)
		vb.Append("x")
		vb.AppendNull()
		arr := b.NewArray()
		defer arr.Release()

		sink := &recordingSink{}
		require.NoError(t, arrowpg.NewCellEncoder().EncodeCell(sink, arr, 0))
		assert.Equal(t, []*string{ptr("x"), nil}, sink.values[0])
	})

	t.Run("list_of_dates", func(t *testing.T) {
		t.Parallel()
		b := array.NewListBuilder(mem, arrow.FixedWidthTypes.Date32)
		defer b.Release()
		vb := b.ValueBuilder().(*array.Date32Builder)
		b.Append(true)
		vb.Append(0)
		vb.AppendNull()
		arr := b.NewArray()
		defer arr.Release()

		sink := &recordingSink{}
		require.NoError(t, arrowpg.NewCellEncoder().EncodeCell(sink, arr, 0))
		got := sink.values[0].([]pgtype.Date)
		require.Len(t, got, 2)
		assert.True(t, got[0].Valid)
		assert.True(t, got[0].Time.Equal(time.Unix(0, 0)))
		assert.False(t, got[1].Valid)
	})

	t.Run("list_of_timestamps_with_zone", func(t *testing.T) {
		t.Parallel()
		dt := &arrow.TimestampType{Unit: arrow.Second, TimeZone: "America/New_York"}
		b := array.NewListBuilder(mem, dt)
		defer b.Release()
		vb := b.ValueBuilder().(*array.TimestampBuilder)
		b.Append(true)
		vb.Append(1_700_000_000)
		vb.AppendNull()
		arr := b.NewArray()
		defer arr.Release()

		sink := &recordingSink{}
		require.NoError(t, arrowpg.NewCellEncoder().EncodeCell(sink, arr, 0))
		got := sink.values[0].([]pgtype.Timestamptz)
		require.Len(t, got, 2)
		assert.Equal(t, "2023-11-14 17:13:20-05:00", got[0].Time.Format("2006-01-02 15:04:05-07:00"))
		assert.False(t, got[1].Valid)
	})

	t.Run("list_of_bool_sliced", func(t *testing.T) {
		t.Parallel()
		b := array.NewListBuilder(mem, arrow.FixedWidthTypes.Boolean)
		defer b.Release()
		vb := b.ValueBuilder().(*array.BooleanBuilder)
		b.Append(true)
		vb.Append(true)
		b.Append(true)
		vb.Append(false)
		vb.AppendNull()
		arr := b.NewArray()
		defer arr.Release()

		// Row 0 of the slice is row 1 of the original array.
		sliced := array.NewSlice(arr, 1, 2)
		defer sliced.Release()

		sink := &recordingSink{}
		require.NoError(t, arrowpg.NewCellEncoder().EncodeCell(sink, sliced, 0))
		assert.Equal(t, []*bool{ptr(false), nil}, sink.values[0])
	})
}
