package memdoc

import (
	"fmt"
	"strconv"
	"strings"
)

// rect is an inclusive block of cells, 1-based.
type rect struct {
	row1, col1 int
	row2, col2 int
}

func (r rect) intersects(o rect) bool {
	return r.row1 <= o.row2 && o.row1 <= r.row2 && r.col1 <= o.col2 && o.col1 <= r.col2
}

// splitSheet separates an optional sheet prefix from an A1 address.
// `'My Sheet'!A1` and `Sheet1!A1:B2` are both accepted.
func splitSheet(ref string) (sheet, address string) {
	i := strings.LastIndex(ref, "!")
	if i < 0 {
		return "", ref
	}
	sheet = ref[:i]
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	return sheet, ref[i+1:]
}

// parseAddress parses `A1`, `$A$1` or `A1:C3` into a rect.
func parseAddress(address string) (rect, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return rect{}, fmt.Errorf("empty address")
	}
	from, to, isRange := strings.Cut(address, ":")
	r1, c1, err := parseCell(from)
	if err != nil {
		return rect{}, err
	}
	r2, c2 := r1, c1
	if isRange {
		r2, c2, err = parseCell(to)
		if err != nil {
			return rect{}, err
		}
	}
	if r2 < r1 {
		r1, r2 = r2, r1
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	return rect{row1: r1, col1: c1, row2: r2, col2: c2}, nil
}

func parseCell(cell string) (row, col int, err error) {
	s := strings.ToUpper(strings.ReplaceAll(cell, "$", ""))
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		col = col*26 + int(s[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(s) {
		return 0, 0, fmt.Errorf("invalid cell reference %q", cell)
	}
	row, err = strconv.Atoi(s[i:])
	if err != nil || row < 1 {
		return 0, 0, fmt.Errorf("invalid cell reference %q", cell)
	}
	return row, col, nil
}
