package arrowpg_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// checkedAllocator fails the test if anything allocated through it leaks.
func checkedAllocator(t *testing.T) *memory.CheckedAllocator {
	t.Helper()
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	t.Cleanup(func() { mem.AssertSize(t, 0) })
	return mem
}

type valuesAppender[T any] interface {
	array.Builder
	AppendValues([]T, []bool)
}

// buildArray fills b with vals and returns the finished array. A nil valid
// slice marks every value as present.
func buildArray[T any, B valuesAppender[T]](b B, vals []T, valid []bool) arrow.Array {
	defer b.Release()
	b.AppendValues(vals, valid)
	return b.NewArray()
}

// recordingSink collects the values handed to it by the cell encoder.
type recordingSink struct {
	values []any
}

func (s *recordingSink) EncodeField(value any) error {
	s.values = append(s.values, value)
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
