package preprocessing

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/featurepipe/core/model"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
	"github.com/YuminosukeSato/featurepipe/table"
)

// FeatureTransformer はテーブルのカテゴリ列をワンホット化し、数値列を標準化する
//
// 学習済みの状態（カテゴリ一覧・平均・標準偏差）は不変で、学習・バッチ推論・
// オンライン推論で同じオブジェクトを参照渡しで共有する。
// 対象外の列はそのまま通過し、行の順序は保たれる。
type FeatureTransformer struct {
	state *model.StateManager

	// 作成時に固定され、学習後は変更されない
	categorical   []string
	numeric       []string
	handleUnknown HandleUnknown

	encoders map[string]*OneHotEncoder
	scaler   *StandardScaler
	// layout は学習時テーブルでの変換対象列の順序
	layout []string
}

// TransformerState はFeatureTransformerの学習済み状態（シリアライゼーション用）
type TransformerState struct {
	Layout   []string       `json:"layout"`
	Encoders []EncoderState `json:"encoders"`
	Scaler   *ScalerState   `json:"scaler,omitempty"`
}

// TransformerOption はFeatureTransformerの設定オプション
type TransformerOption func(*FeatureTransformer)

// WithUnknownCategories は未知カテゴリの扱いを設定する
func WithUnknownCategories(h HandleUnknown) TransformerOption {
	return func(ft *FeatureTransformer) {
		ft.handleUnknown = h
	}
}

// NewFeatureTransformer は新しいFeatureTransformerを作成する
//
// 使用例:
//
//	ft := preprocessing.NewFeatureTransformer([]string{"city"}, []string{"amount"})
//	train, err := ft.FitTransform(tbl)
//	X, err := train.Matrix(ft.FeatureNames()...)
func NewFeatureTransformer(categorical, numeric []string, opts ...TransformerOption) *FeatureTransformer {
	ft := &FeatureTransformer{
		state:         model.NewStateManager(),
		categorical:   append([]string(nil), categorical...),
		numeric:       append([]string(nil), numeric...),
		handleUnknown: HandleUnknownError,
	}
	for _, opt := range opts {
		opt(ft)
	}
	return ft
}

// NewFeatureTransformerFromState は保存された状態から学習済みのFeatureTransformerを復元する
func NewFeatureTransformerFromState(st TransformerState) (*FeatureTransformer, error) {
	ft := NewFeatureTransformer(nil, nil)
	ft.encoders = make(map[string]*OneHotEncoder, len(st.Encoders))
	for _, es := range st.Encoders {
		enc, err := NewOneHotEncoderFromState(es)
		if err != nil {
			return nil, errors.Wrapf(err, "restoring encoder for column %s", es.Column)
		}
		ft.encoders[es.Column] = enc
		ft.categorical = append(ft.categorical, es.Column)
		ft.handleUnknown = enc.HandleUnknown
	}
	if st.Scaler != nil {
		scaler, err := NewStandardScalerFromState(*st.Scaler)
		if err != nil {
			return nil, errors.Wrap(err, "restoring scaler")
		}
		if len(st.Scaler.Columns) != scaler.NFeatures {
			return nil, errors.NewDimensionError("NewFeatureTransformerFromState", scaler.NFeatures, len(st.Scaler.Columns), 1)
		}
		ft.scaler = scaler
		ft.numeric = append([]string(nil), st.Scaler.Columns...)
	}
	if len(st.Layout) != len(ft.categorical)+len(ft.numeric) {
		return nil, errors.NewValidationError("layout", "must list every transformed column once", st.Layout)
	}
	for _, name := range st.Layout {
		if _, ok := ft.encoders[name]; !ok && indexOf(ft.numeric, name) < 0 {
			return nil, errors.NewValidationError("layout", "unknown column", name)
		}
	}
	ft.layout = append([]string(nil), st.Layout...)
	ft.state.SetDimensions(len(ft.FeatureNames()), 0)
	ft.state.SetFitted()
	return ft, nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func (ft *FeatureTransformer) validateColumns(t *table.Table) error {
	for _, name := range ft.categorical {
		c, err := t.Column(name)
		if err != nil {
			return err
		}
		if c.Kind != table.String {
			return errors.NewValidationError(name, "categorical column must be a string column", c.Kind)
		}
	}
	for _, name := range ft.numeric {
		c, err := t.Column(name)
		if err != nil {
			return err
		}
		if c.Kind != table.Float {
			return errors.NewValidationError(name, "numeric column must be a float column", c.Kind)
		}
		if indexOf(ft.categorical, name) >= 0 {
			return errors.NewValidationError(name, "column is both categorical and numeric", name)
		}
	}
	return nil
}

// Categorical はワンホット化する列を返す
func (ft *FeatureTransformer) Categorical() []string {
	return append([]string(nil), ft.categorical...)
}

// Numeric は標準化する列を返す
func (ft *FeatureTransformer) Numeric() []string {
	return append([]string(nil), ft.numeric...)
}

// HandleUnknown は全エンコーダーに適用する未知カテゴリの方針を返す
func (ft *FeatureTransformer) HandleUnknown() HandleUnknown {
	return ft.handleUnknown
}

// IsFitted は学習済みかどうかを返す
func (ft *FeatureTransformer) IsFitted() bool {
	return ft.state.IsFitted()
}

// Fit はカテゴリ列のカテゴリ一覧と数値列の平均・標準偏差を学習する
// 一度だけ呼び出せる。2回目はErrAlreadyFittedを返す
func (ft *FeatureTransformer) Fit(t *table.Table) error {
	if err := ft.state.RequireUnfitted("FeatureTransformer.Fit"); err != nil {
		return err
	}
	if err := ft.handleUnknown.Validate(); err != nil {
		return err
	}
	if len(ft.categorical)+len(ft.numeric) == 0 {
		return errors.NewValidationError("columns", "at least one categorical or numeric column is required", 0)
	}
	if t.NumRows() == 0 {
		return errors.NewModelError("FeatureTransformer.Fit", "empty data", errors.ErrEmptyData)
	}
	if err := ft.validateColumns(t); err != nil {
		return err
	}

	start := time.Now()
	logger := log.GetLoggerWithName("preprocessing.transformer")

	encoders := make(map[string]*OneHotEncoder, len(ft.categorical))
	for _, name := range ft.categorical {
		values, _ := t.Strings(name)
		enc := NewOneHotEncoder(name, WithHandleUnknown(ft.handleUnknown))
		if err := enc.Fit(values); err != nil {
			return errors.Wrapf(err, "fitting encoder for column %s", name)
		}
		encoders[name] = enc
	}

	var scaler *StandardScaler
	if len(ft.numeric) > 0 {
		X, err := t.Matrix(ft.numeric...)
		if err != nil {
			return err
		}
		scaler = NewStandardScalerDefault()
		if err := scaler.Fit(X); err != nil {
			return errors.Wrap(err, "fitting scaler")
		}
	}

	var layout []string
	for _, name := range t.Columns() {
		if _, ok := encoders[name]; ok || indexOf(ft.numeric, name) >= 0 {
			layout = append(layout, name)
		}
	}

	ft.encoders = encoders
	ft.scaler = scaler
	ft.layout = layout
	ft.state.SetDimensions(len(ft.FeatureNames()), t.NumRows())
	ft.state.SetFitted()

	logger.Info("Feature transformer fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, t.NumRows(),
		log.FeaturesKey, len(ft.FeatureNames()),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Transform は学習済みの状態でテーブルを変換する
//
// カテゴリ列は同じ位置で "<col>_<category>" のfloat列群に置き換えられ、
// 数値列 v は (v − mean)/std に置き換えられる。その他の列はそのまま残る。
func (ft *FeatureTransformer) Transform(t *table.Table) (*table.Table, error) {
	if err := ft.state.RequireFitted("FeatureTransformer", "Transform"); err != nil {
		return nil, err
	}
	if t.NumRows() == 0 {
		return nil, errors.NewModelError("FeatureTransformer.Transform", "empty data", errors.ErrEmptyData)
	}
	if err := ft.validateColumns(t); err != nil {
		return nil, err
	}

	var scaled mat.Matrix
	if ft.scaler != nil {
		X, err := t.Matrix(ft.numeric...)
		if err != nil {
			return nil, err
		}
		if scaled, err = ft.scaler.Transform(X); err != nil {
			return nil, err
		}
	}

	cols := make([]*table.Column, 0, t.NumCols()+len(ft.FeatureNames()))
	for i := 0; i < t.NumCols(); i++ {
		c := t.ColumnAt(i)

		if enc, ok := ft.encoders[c.Name]; ok {
			values, _ := t.Strings(c.Name)
			onehot, err := enc.Transform(values)
			if err != nil {
				return nil, err
			}
			for j, name := range enc.FeatureNames() {
				cols = append(cols, table.NewFloatColumn(name, mat.Col(nil, j, onehot)))
			}
			continue
		}

		if j := indexOf(ft.numeric, c.Name); j >= 0 {
			cols = append(cols, table.NewFloatColumn(c.Name, mat.Col(nil, j, scaled)))
			continue
		}

		cols = append(cols, c)
	}

	out, err := table.New(cols...)
	if err != nil {
		return nil, errors.Wrap(err, "transformed columns collide with passthrough columns")
	}
	return out, nil
}

// FitTransform は学習と変換を同時に実行する
func (ft *FeatureTransformer) FitTransform(t *table.Table) (*table.Table, error) {
	if err := ft.Fit(t); err != nil {
		return nil, err
	}
	return ft.Transform(t)
}

// FeatureNames は変換後のモデル入力列名を学習時の列順で返す
func (ft *FeatureTransformer) FeatureNames() []string {
	var names []string
	for _, name := range ft.layout {
		if enc, ok := ft.encoders[name]; ok {
			names = append(names, enc.FeatureNames()...)
		} else {
			names = append(names, name)
		}
	}
	return names
}

// Encoder は指定した列のエンコーダーを返す
func (ft *FeatureTransformer) Encoder(column string) (*OneHotEncoder, error) {
	if err := ft.state.RequireFitted("FeatureTransformer", "Encoder"); err != nil {
		return nil, err
	}
	enc, ok := ft.encoders[column]
	if !ok {
		return nil, errors.NewValidationError("column", "is not a categorical column", column)
	}
	return enc, nil
}

// Scaler は数値列のスケーラーを返す（数値列がない場合はnil）
func (ft *FeatureTransformer) Scaler() (*StandardScaler, error) {
	if err := ft.state.RequireFitted("FeatureTransformer", "Scaler"); err != nil {
		return nil, err
	}
	return ft.scaler, nil
}

// State は学習済みの状態を返す
func (ft *FeatureTransformer) State() (TransformerState, error) {
	if err := ft.state.RequireFitted("FeatureTransformer", "State"); err != nil {
		return TransformerState{}, err
	}
	st := TransformerState{Layout: append([]string(nil), ft.layout...)}
	for _, name := range ft.layout {
		if enc, ok := ft.encoders[name]; ok {
			es, _ := enc.State()
			st.Encoders = append(st.Encoders, es)
		}
	}
	if ft.scaler != nil {
		ss, _ := ft.scaler.State()
		ss.Columns = append([]string(nil), ft.numeric...)
		st.Scaler = &ss
	}
	return st, nil
}

// String は変換器の文字列表現を返す
func (ft *FeatureTransformer) String() string {
	return fmt.Sprintf("FeatureTransformer(categorical=%v, numeric=%v, handle_unknown=%s)",
		ft.categorical, ft.numeric, ft.handleUnknown)
}
