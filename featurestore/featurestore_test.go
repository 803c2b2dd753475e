package featurestore

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/table"
)

func testView() View {
	return View{
		Name: "transactions",
		Schema: table.Schema{
			{Name: "id", Kind: table.String},
			{Name: "city", Kind: table.String},
			{Name: "amount", Kind: table.Float},
		},
		KeyColumn:   "id",
		LabelColumn: "fraud",
	}
}

const transactionsCSV = `id,city,amount,fraud
t1,Amsterdam,10,0
t2,Paris,20,1
t3,Amsterdam,30,0
`

func TestView_Validate(t *testing.T) {
	assert.NoError(t, testView().Validate())

	tests := []struct {
		name   string
		mutate func(v *View)
	}{
		{"no name", func(v *View) { v.Name = "" }},
		{"no key", func(v *View) { v.KeyColumn = "" }},
		{"key not in schema", func(v *View) { v.KeyColumn = "missing" }},
		{"numeric key", func(v *View) { v.KeyColumn = "amount" }},
		{"label in schema", func(v *View) { v.LabelColumn = "city" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testView()
			tt.mutate(&v)
			var ve *errors.ValidationError
			assert.True(t, errors.As(v.Validate(), &ve))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := LoadCSV(strings.NewReader(transactionsCSV), testView())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	train, labels, err := s.TrainingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "city", "amount"}, train.Columns())
	assert.Equal(t, []float64{0, 1, 0}, labels)

	batch, err := s.BatchData(ctx)
	require.NoError(t, err)
	assert.False(t, batch.Has("fraud"))
	assert.Equal(t, 3, batch.NumRows())

	v, err := s.GetFeatureVector(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, table.FeatureVector{"t2", "Paris", 20.0}, v)

	vs, err := s.GetFeatureVectors(ctx, []string{"t3", "t1"})
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, "t3", vs[0][0])
	assert.Equal(t, "t1", vs[1][0])

	_, err = s.GetFeatureVectors(ctx, []string{"t1", "t9"})
	var nf *errors.FeatureVectorNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "t9", nf.Key)
	assert.Equal(t, "transactions", nf.View)
}

func TestMemoryStore_Errors(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("id,city,amount,fraud\nt1,A,1,0\nt1,B,2,1\n"), testView())
	assert.Error(t, err, "duplicate keys")

	_, err = LoadCSV(strings.NewReader("id,city,amount,fraud\nt1,A,1,2\n"), testView())
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve), "labels must be binary")

	_, err = LoadCSV(strings.NewReader("id,city,fraud\nt1,A,0\n"), testView())
	assert.Error(t, err, "missing feature column")

	unlabelled := testView()
	unlabelled.LabelColumn = ""
	s, err := LoadCSV(strings.NewReader("id,city,amount\nt1,A,1\n"), unlabelled)
	require.NoError(t, err)
	_, _, err = s.TrainingData(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.BatchData(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeRows is a pgx.Rows over fixed values
type fakeRows struct {
	values [][]any
	pos    int
	err    error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Scan(...any) error                            { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.values[r.pos-1], nil
}

type recordedQuery struct {
	sql  string
	args []any
}

type fakeQuerier struct {
	rows    [][]any
	queries []recordedQuery
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.queries = append(q.queries, recordedQuery{sql: sql, args: args})
	return &fakeRows{values: q.rows}, nil
}

func TestPostgresStore_TrainingData(t *testing.T) {
	db := &fakeQuerier{rows: [][]any{
		{"t1", "Amsterdam", 10.0, 0.0},
		{"t2", "Paris", 20.0, 1.0},
	}}
	s, err := NewPostgresStore(db, "features.transactions", testView())
	require.NoError(t, err)

	train, labels, err := s.TrainingData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "city", "amount"}, train.Columns())
	assert.Equal(t, []float64{0, 1}, labels)

	require.Len(t, db.queries, 1)
	assert.Equal(t,
		`SELECT "id"::text, "city"::text, "amount"::double precision, "fraud"::double precision FROM "features"."transactions" ORDER BY "id"`,
		db.queries[0].sql)
}

func TestPostgresStore_Lookup(t *testing.T) {
	db := &fakeQuerier{rows: [][]any{
		{"t2", "Paris", 20.0},
		{"t1", "Amsterdam", 10.0},
	}}
	s, err := NewPostgresStore(db, "transactions", testView())
	require.NoError(t, err)

	vs, err := s.GetFeatureVectors(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Equal(t, table.FeatureVector{"t1", "Amsterdam", 10.0}, vs[0])
	assert.Equal(t, table.FeatureVector{"t2", "Paris", 20.0}, vs[1])

	require.Len(t, db.queries, 1)
	assert.Equal(t,
		`SELECT "id"::text, "city"::text, "amount"::double precision FROM "transactions" WHERE "id"::text = ANY($1)`,
		db.queries[0].sql)
	assert.Equal(t, []any{[]string{"t1", "t2"}}, db.queries[0].args)

	_, err = s.GetFeatureVector(context.Background(), "t3")
	var nf *errors.FeatureVectorNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestPostgresStore_MalformedRows(t *testing.T) {
	db := &fakeQuerier{rows: [][]any{{"t1", nil, 10.0}}}
	s, err := NewPostgresStore(db, "transactions", testView())
	require.NoError(t, err)

	_, err = s.BatchData(context.Background())
	var mv *errors.MalformedVectorError
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, "city", mv.Column)

	db.rows = [][]any{{"t1", "Paris"}}
	_, err = s.BatchData(context.Background())
	assert.True(t, errors.As(err, &mv))

	db.rows = [][]any{{"t1", "Paris", 1.0, 3.0}}
	_, _, err = s.TrainingData(context.Background())
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestPostgresStore_QuotesIdentifiers(t *testing.T) {
	view := testView()
	view.Schema[1].Name = `ci"ty`
	db := &fakeQuerier{}
	s, err := NewPostgresStore(db, "transactions", view)
	require.NoError(t, err)

	_, err = s.BatchData(context.Background())
	require.NoError(t, err)
	assert.Contains(t, db.queries[0].sql, `"ci""ty"::text`)
}
