package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Encoded is the numeric form of a cleaned frame: an n×p feature matrix in
// Features order plus the binary label vector.
type Encoded struct {
	Features []string
	X        *mat.Dense
	Y        []float64
}

// Rows returns the sample count.
func (e *Encoded) Rows() int {
	r, _ := e.X.Dims()
	return r
}

type columnPlan struct {
	index      int
	numeric    bool
	categories []string // kept indicator categories, in output order
}

// OneHot encodes every non-numeric column except label into indicator columns.
// Numeric columns keep their frame order and come first; indicator blocks follow
// in frame order, one column per category sorted lexicographically, named
// "<column>_<category>". With dropFirst the first category of each block is omitted.
func OneHot(f *Frame, label string, dropFirst bool) (*Encoded, error) {
	if len(f.Rows) == 0 {
		return nil, ErrEmpty
	}
	labelIdx, err := f.Index(label)
	if err != nil {
		return nil, err
	}

	plans := make([]columnPlan, 0, len(f.Columns)-1)
	for i := range f.Columns {
		if i == labelIdx {
			continue
		}
		plan := columnPlan{index: i, numeric: isNumericColumn(f.Rows, i)}
		if !plan.numeric {
			plan.categories = categoriesOf(f.Rows, i, dropFirst)
		}
		plans = append(plans, plan)
	}

	var features []string
	for _, p := range plans {
		if p.numeric {
			features = append(features, f.Columns[p.index])
		}
	}
	for _, p := range plans {
		for _, c := range p.categories {
			features = append(features, f.Columns[p.index]+"_"+c)
		}
	}

	n, cols := len(f.Rows), len(features)
	if cols == 0 {
		return nil, fmt.Errorf("no feature columns besides %s", label)
	}
	X := mat.NewDense(n, cols, nil)
	y := make([]float64, n)

	for r, row := range f.Rows {
		lv, err := parseCell(row[labelIdx])
		if err != nil {
			return nil, fmt.Errorf("row %d: label: %w", r, err)
		}
		y[r] = lv

		col := 0
		for _, p := range plans {
			if !p.numeric {
				continue
			}
			v, err := parseCell(row[p.index])
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", r, f.Columns[p.index], err)
			}
			X.Set(r, col, v)
			col++
		}
		for _, p := range plans {
			for _, c := range p.categories {
				if row[p.index] != nil && strings.TrimSpace(*row[p.index]) == c {
					X.Set(r, col, 1)
				}
				col++
			}
		}
	}

	return &Encoded{Features: features, X: X, Y: y}, nil
}

func parseCell(cell *string) (float64, error) {
	if cell == nil {
		return 0, fmt.Errorf("missing value")
	}
	return strconv.ParseFloat(strings.TrimSpace(*cell), 64)
}

func isNumericColumn(rows [][]*string, idx int) bool {
	for _, row := range rows {
		if _, err := parseCell(row[idx]); err != nil {
			return false
		}
	}
	return true
}

func categoriesOf(rows [][]*string, idx int, dropFirst bool) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		if row[idx] == nil {
			continue
		}
		seen[strings.TrimSpace(*row[idx])] = struct{}{}
	}

	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	if dropFirst && len(cats) > 0 {
		cats = cats[1:]
	}
	return cats
}
