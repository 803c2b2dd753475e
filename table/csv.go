package table

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// ReadCSV loads a table from CSV with a header row. Every schema field must
// appear in the header; extra CSV columns are ignored. The result has the
// schema's column order.
func ReadCSV(r io.Reader, schema Schema) (*Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.Wrap(errors.ErrEmptyData, "csv has no header")
		}
		return nil, errors.Wrap(err, "failed to read csv header")
	}
	positions := make([]int, len(schema))
	for j, f := range schema {
		positions[j] = -1
		for k, h := range header {
			if h == f.Name {
				positions[j] = k
				break
			}
		}
		if positions[j] < 0 {
			return nil, errors.NewValidationError("csv header", "missing column", f.Name)
		}
	}

	var vectors []FeatureVector
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read csv row %d", row)
		}
		v := make(FeatureVector, len(schema))
		for j, f := range schema {
			raw := record[positions[j]]
			if f.Kind == String {
				v[j] = raw
				continue
			}
			x, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, errors.NewMalformedVectorError(row, f.Name, "not a number: "+strconv.Quote(raw))
			}
			v[j] = x
		}
		vectors = append(vectors, v)
	}
	return FromVectors(schema, vectors)
}

// WriteCSV writes t with a header row. Floats use the shortest representation
// that round-trips.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns()); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}
	record := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range t.columns {
			if c.Kind == String {
				record[j] = c.strings[i]
			} else {
				record[j] = strconv.FormatFloat(c.floats[i], 'g', -1, 64)
			}
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write csv row %d", i)
		}
	}
	writer.Flush()
	return errors.WithStack(writer.Error())
}
