package rewrite

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidEdit 表示编辑区间越界或相互重叠。
var ErrInvalidEdit = errors.New("invalid edit range")

// Edit 用 Text 替换原文 [Start, End) 字节区间。
type Edit struct {
	Start int
	End   int
	Text  string
}

// Apply 按 Start 排序后单遍拼接全部编辑，未覆盖的字节原样保留；不修改 edits。
func Apply(src string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return src, nil
	}

	sorted := slices.Clone(edits)
	slices.SortStableFunc(sorted, func(a, b Edit) int {
		return cmp.Compare(a.Start, b.Start)
	})

	var b strings.Builder
	b.Grow(len(src))
	pos := 0
	for _, e := range sorted {
		if e.Start < pos || e.End < e.Start || e.End > len(src) {
			return "", fmt.Errorf("%w: [%d,%d) after offset %d", ErrInvalidEdit, e.Start, e.End, pos)
		}
		b.WriteString(src[pos:e.Start])
		b.WriteString(e.Text)
		pos = e.End
	}
	b.WriteString(src[pos:])
	return b.String(), nil
}
