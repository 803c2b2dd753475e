package featurestore

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
	"github.com/YuminosukeSato/featurepipe/table"
)

// Querier is the subset of *pgxpool.Pool used by PostgresStore
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore serves a view from one Postgres table or view. String columns
// are read as text and Float columns as double precision.
type PostgresStore struct {
	db    Querier
	pool  *pgxpool.Pool
	view  View
	table pgx.Identifier
}

// NewPostgresStore creates a store reading relation (optionally schema-qualified,
// e.g. "features.transactions") through db.
func NewPostgresStore(db Querier, relation string, view View) (*PostgresStore, error) {
	if err := view.Validate(); err != nil {
		return nil, err
	}
	if relation == "" {
		return nil, errors.NewValidationError("table", "is required", relation)
	}
	return &PostgresStore{
		db:    db,
		view:  view,
		table: pgx.Identifier(strings.Split(relation, ".")),
	}, nil
}

// ConnectPostgres opens a connection pool for dsn and verifies it with a ping
func ConnectPostgres(ctx context.Context, dsn, relation string, view View) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse postgres connection string")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	s, err := NewPostgresStore(pool, relation, view)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// Close releases the pool opened by ConnectPostgres
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// View implements Store.View
func (s *PostgresStore) View() View { return s.view }

func castColumn(f table.Field) string {
	id := pgx.Identifier{f.Name}.Sanitize()
	if f.Kind == table.String {
		return id + "::text"
	}
	return id + "::double precision"
}

func (s *PostgresStore) selectQuery(schema table.Schema) string {
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = castColumn(f)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + s.table.Sanitize()
}

func (s *PostgresStore) scanQuery(schema table.Schema) string {
	return s.selectQuery(schema) + " ORDER BY " + pgx.Identifier{s.view.KeyColumn}.Sanitize()
}

func (s *PostgresStore) lookupQuery() string {
	return s.selectQuery(s.view.Schema) + " WHERE " + pgx.Identifier{s.view.KeyColumn}.Sanitize() + "::text = ANY($1)"
}

// TrainingData implements Store.TrainingData
func (s *PostgresStore) TrainingData(ctx context.Context) (*table.Table, []float64, error) {
	schema, err := s.view.labelled()
	if err != nil {
		return nil, nil, err
	}
	t, err := s.query(ctx, schema, s.scanQuery(schema))
	if err != nil {
		return nil, nil, err
	}
	labels, _ := t.Floats(s.view.LabelColumn)
	if err := checkLabels(s.view.Name, labels); err != nil {
		return nil, nil, err
	}
	return t.Drop(s.view.LabelColumn), labels, nil
}

// BatchData implements Store.BatchData
func (s *PostgresStore) BatchData(ctx context.Context) (*table.Table, error) {
	return s.query(ctx, s.view.Schema, s.scanQuery(s.view.Schema))
}

// GetFeatureVector implements Store.GetFeatureVector
func (s *PostgresStore) GetFeatureVector(ctx context.Context, key string) (table.FeatureVector, error) {
	vs, err := s.GetFeatureVectors(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// GetFeatureVectors implements Store.GetFeatureVectors
func (s *PostgresStore) GetFeatureVectors(ctx context.Context, keys []string) ([]table.FeatureVector, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	t, err := s.query(ctx, s.view.Schema, s.lookupQuery(), keys)
	if err != nil {
		return nil, err
	}

	found, _ := t.Strings(s.view.KeyColumn)
	index := make(map[string]int, len(found))
	for i, k := range found {
		if _, ok := index[k]; !ok {
			index[k] = i
		}
	}
	out := make([]table.FeatureVector, len(keys))
	for i, k := range keys {
		row, ok := index[k]
		if !ok {
			return nil, errors.NewFeatureVectorNotFoundError(s.view.Name, k)
		}
		out[i] = t.Row(row)
	}
	return out, nil
}

func (s *PostgresStore) query(ctx context.Context, schema table.Schema, sql string, args ...any) (*table.Table, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query feature view %s", s.view.Name)
	}
	defer rows.Close()

	var vectors []table.FeatureVector
	for i := 0; rows.Next(); i++ {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read row %d of feature view %s", i, s.view.Name)
		}
		if len(values) != len(schema) {
			return nil, errors.NewArityError(i, len(schema), len(values))
		}
		for j, v := range values {
			if v == nil {
				return nil, errors.NewMalformedVectorError(i, schema[j].Name, "null value")
			}
		}
		vectors = append(vectors, table.FeatureVector(values))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read feature view %s", s.view.Name)
	}

	log.GetLoggerWithName("featurestore.postgres").Debug("Feature rows fetched",
		log.FeatureViewKey, s.view.Name,
		log.SamplesKey, len(vectors),
		log.BackendKey, "postgres",
	)
	return table.FromVectors(schema, vectors)
}

var _ Store = (*PostgresStore)(nil)
