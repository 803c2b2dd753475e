// Package table holds the columnar structure that raw feature vectors are
// converted into before transformation and scoring.
package table

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// Kind is the value type of a column.
type Kind int

const (
	// String columns hold categorical values.
	String Kind = iota
	// Float columns hold numeric values.
	Float
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Float:
		return "float"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler so schemas serialize as names.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "string", "str", "category", "categorical":
		*k = String
	case "float", "float64", "double", "numeric", "number":
		*k = Float
	default:
		return errors.NewValidationError("kind", "must be string or float", string(text))
	}
	return nil
}

// Field names one column of a Schema.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
}

// Schema is the ordered column layout of a feature vector.
type Schema []Field

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks that every field has a unique non-empty name.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.NewValidationError("schema", "must have at least one field", 0)
	}
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if f.Name == "" {
			return errors.NewValidationError("schema", "field name must not be empty", f)
		}
		if _, dup := seen[f.Name]; dup {
			return errors.NewValidationError("schema", "duplicate field name", f.Name)
		}
		if f.Kind != String && f.Kind != Float {
			return errors.NewValidationError("schema", "unknown field kind", f.Kind)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// FeatureVector is one raw input row in schema order. Values are string for
// String columns and a Go number for Float columns.
type FeatureVector []interface{}

// Column is a named, typed column. Exactly one of the backing slices is used.
type Column struct {
	Name    string
	Kind    Kind
	strings []string
	floats  []float64
}

// NewStringColumn creates a String column. The slice is not copied.
func NewStringColumn(name string, values []string) *Column {
	return &Column{Name: name, Kind: String, strings: values}
}

// NewFloatColumn creates a Float column. The slice is not copied.
func NewFloatColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Float, floats: values}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == String {
		return len(c.strings)
	}
	return len(c.floats)
}

// Value returns the value at row i as string or float64.
func (c *Column) Value(i int) interface{} {
	if c.Kind == String {
		return c.strings[i]
	}
	return c.floats[i]
}

// Table is an ordered collection of equally long named columns.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New assembles a Table from columns. All columns must have the same length
// and distinct names.
func New(columns ...*Column) (*Table, error) {
	t := &Table{
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, dup := t.index[c.Name]; dup {
			return nil, errors.NewValidationError("columns", "duplicate column name", c.Name)
		}
		t.index[c.Name] = i
		if i == 0 {
			t.rows = c.Len()
			continue
		}
		if c.Len() != t.rows {
			return nil, errors.NewDimensionError("table.New", t.rows, c.Len(), 0)
		}
	}
	return t, nil
}

// Empty returns a zero-row table with the schema's columns.
func Empty(schema Schema) *Table {
	cols := make([]*Column, len(schema))
	for i, f := range schema {
		if f.Kind == String {
			cols[i] = NewStringColumn(f.Name, []string{})
		} else {
			cols[i] = NewFloatColumn(f.Name, []float64{})
		}
	}
	t, _ := New(cols...)
	return t
}

// FromVectors converts feature vectors into a Table with one row per vector,
// in input order. A single vector is passed as a one-element slice.
//
// A vector whose arity differs from the schema, or whose value type does not
// fit its column, yields a MalformedVectorError.
func FromVectors(schema Schema, vectors []FeatureVector) (*Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	strs := make([][]string, len(schema))
	nums := make([][]float64, len(schema))
	for j, f := range schema {
		if f.Kind == String {
			strs[j] = make([]string, len(vectors))
		} else {
			nums[j] = make([]float64, len(vectors))
		}
	}

	for i, v := range vectors {
		if len(v) != len(schema) {
			return nil, errors.NewArityError(i, len(schema), len(v))
		}
		for j, f := range schema {
			switch f.Kind {
			case String:
				s, ok := v[j].(string)
				if !ok {
					return nil, errors.NewMalformedVectorError(i, f.Name, fmt.Sprintf("expected string, got %T", v[j]))
				}
				strs[j][i] = s
			case Float:
				x, ok := toFloat(v[j])
				if !ok {
					return nil, errors.NewMalformedVectorError(i, f.Name, fmt.Sprintf("expected number, got %T", v[j]))
				}
				nums[j][i] = x
			}
		}
	}

	cols := make([]*Column, len(schema))
	for j, f := range schema {
		if f.Kind == String {
			cols[j] = NewStringColumn(f.Name, strs[j])
		} else {
			cols[j] = NewFloatColumn(f.Name, nums[j])
		}
	}
	return New(cols...)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.columns) }

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Schema returns the table's column layout.
func (t *Table) Schema() Schema {
	s := make(Schema, len(t.columns))
	for i, c := range t.columns {
		s[i] = Field{Name: c.Name, Kind: c.Kind}
	}
	return s
}

// Has reports whether the table has a column called name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, errors.NewValidationError("column", "not found in table", name)
	}
	return t.columns[i], nil
}

// ColumnAt returns the column at position i.
func (t *Table) ColumnAt(i int) *Column { return t.columns[i] }

// Strings returns a copy of a String column's values.
func (t *Table) Strings(name string) ([]string, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != String {
		return nil, errors.NewValidationError(name, "column is not a string column", c.Kind)
	}
	return append([]string(nil), c.strings...), nil
}

// Floats returns a copy of a Float column's values.
func (t *Table) Floats(name string) ([]float64, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != Float {
		return nil, errors.NewValidationError(name, "column is not a float column", c.Kind)
	}
	return append([]float64(nil), c.floats...), nil
}

// Row returns row i as a FeatureVector in column order.
func (t *Table) Row(i int) FeatureVector {
	v := make(FeatureVector, len(t.columns))
	for j, c := range t.columns {
		v[j] = c.Value(i)
	}
	return v
}

// Matrix builds a rows × len(columns) dense matrix from Float columns.
// With no arguments every Float column is used, in table order.
func (t *Table) Matrix(columns ...string) (*mat.Dense, error) {
	if len(columns) == 0 {
		for _, c := range t.columns {
			if c.Kind == Float {
				columns = append(columns, c.Name)
			}
		}
	}
	if len(columns) == 0 {
		return nil, errors.NewValueError("table.Matrix", "table has no float columns")
	}
	if t.rows == 0 {
		return nil, errors.ErrEmptyData
	}

	data := make([]float64, t.rows*len(columns))
	for j, name := range columns {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		if c.Kind != Float {
			return nil, errors.NewValidationError(name, "column is not a float column", c.Kind)
		}
		for i, x := range c.floats {
			data[i*len(columns)+j] = x
		}
	}
	return mat.NewDense(t.rows, len(columns), data), nil
}

// Select returns a table with only the named columns, in the given order.
// Column data is shared with t.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, len(names))
	for i, name := range names {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return New(cols...)
}

// Drop returns a table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	cols := make([]*Column, 0, len(t.columns))
	for _, c := range t.columns {
		if _, ok := drop[c.Name]; !ok {
			cols = append(cols, c)
		}
	}
	out, _ := New(cols...)
	return out
}

// Slice returns rows [start, end) as a new table sharing column data with t.
func (t *Table) Slice(start, end int) (*Table, error) {
	if start < 0 || end > t.rows || start > end {
		return nil, errors.NewValueError("table.Slice",
			fmt.Sprintf("range [%d, %d) out of bounds for %d rows", start, end, t.rows))
	}
	cols := make([]*Column, len(t.columns))
	for i, c := range t.columns {
		if c.Kind == String {
			cols[i] = NewStringColumn(c.Name, c.strings[start:end])
		} else {
			cols[i] = NewFloatColumn(c.Name, c.floats[start:end])
		}
	}
	return New(cols...)
}

// WithColumn returns a new table with c appended, or replacing the column of
// the same name in place.
func (t *Table) WithColumn(c *Column) (*Table, error) {
	cols := append([]*Column(nil), t.columns...)
	if i, ok := t.index[c.Name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	if len(t.columns) > 0 && c.Len() != t.rows {
		return nil, errors.NewDimensionError("table.WithColumn", t.rows, c.Len(), 0)
	}
	return New(cols...)
}
