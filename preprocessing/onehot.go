package preprocessing

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/featurepipe/core/model"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// HandleUnknown は変換時に未知のカテゴリが現れた場合の方針
type HandleUnknown string

const (
	// HandleUnknownError は未知カテゴリでUnseenCategoryErrorを返す（デフォルト）
	HandleUnknownError HandleUnknown = "error"
	// HandleUnknownIgnore は未知カテゴリを全ゼロのベクトルに変換し、警告を出す
	HandleUnknownIgnore HandleUnknown = "ignore"
)

// Validate は方針が既知の値かどうかを検証する
func (h HandleUnknown) Validate() error {
	switch h {
	case HandleUnknownError, HandleUnknownIgnore:
		return nil
	default:
		return errors.NewValidationError("handle_unknown", "must be 'error' or 'ignore'", string(h))
	}
}

// OneHotEncoder は1つのカテゴリ列をワンホットベクトルに変換する
// カテゴリは学習時にソートされ、その順序が出力列の順序になる
type OneHotEncoder struct {
	state *model.StateManager

	// Column は出力列名の接頭辞と警告に使う列名
	Column string

	// HandleUnknown は未知カテゴリの扱い (デフォルト: error)
	HandleUnknown HandleUnknown

	categories []string
	index      map[string]int
}

// EncoderState はOneHotEncoderの学習済み状態（シリアライゼーション用）
type EncoderState struct {
	Column        string        `json:"column"`
	Categories    []string      `json:"categories"`
	HandleUnknown HandleUnknown `json:"handle_unknown"`
}

// EncoderOption はOneHotEncoderの設定オプション
type EncoderOption func(*OneHotEncoder)

// WithHandleUnknown は未知カテゴリの扱いを設定する
func WithHandleUnknown(h HandleUnknown) EncoderOption {
	return func(e *OneHotEncoder) {
		e.HandleUnknown = h
	}
}

// NewOneHotEncoder は新しいOneHotEncoderを作成する
//
// 使用例:
//
//	enc := preprocessing.NewOneHotEncoder("city")
//	err := enc.Fit([]string{"Paris", "Amsterdam"})
//	X, err := enc.Transform([]string{"Amsterdam"}) // [[1, 0]]
func NewOneHotEncoder(column string, opts ...EncoderOption) *OneHotEncoder {
	e := &OneHotEncoder{
		state:         model.NewStateManager(),
		Column:        column,
		HandleUnknown: HandleUnknownError,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewOneHotEncoderFromState は保存された状態から学習済みのOneHotEncoderを復元する
func NewOneHotEncoderFromState(st EncoderState) (*OneHotEncoder, error) {
	h := st.HandleUnknown
	if h == "" {
		h = HandleUnknownError
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if len(st.Categories) == 0 {
		return nil, errors.NewValidationError("categories", "must not be empty", st.Column)
	}
	e := NewOneHotEncoder(st.Column, WithHandleUnknown(h))
	if err := e.setCategories(st.Categories); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *OneHotEncoder) setCategories(categories []string) error {
	e.categories = append([]string(nil), categories...)
	e.index = make(map[string]int, len(categories))
	for i, c := range e.categories {
		if _, dup := e.index[c]; dup {
			return errors.NewValidationError("categories", "duplicate category", c)
		}
		e.index[c] = i
	}
	e.state.SetDimensions(len(e.categories), 0)
	e.state.SetFitted()
	return nil
}

// IsFitted は学習済みかどうかを返す
func (e *OneHotEncoder) IsFitted() bool {
	return e.state.IsFitted()
}

// Fit は値の集合からカテゴリ一覧を学習する
func (e *OneHotEncoder) Fit(values []string) error {
	if err := e.state.RequireUnfitted("OneHotEncoder.Fit"); err != nil {
		return err
	}
	if err := e.HandleUnknown.Validate(); err != nil {
		return err
	}
	if len(values) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	seen := make(map[string]struct{})
	var categories []string
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			categories = append(categories, v)
		}
	}
	sort.Strings(categories)
	return e.setCategories(categories)
}

// Transform は値をワンホット行列 (len(values) × len(categories)) に変換する
func (e *OneHotEncoder) Transform(values []string) (*mat.Dense, error) {
	if err := e.state.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}

	result := mat.NewDense(len(values), len(e.categories), nil)
	var unknown map[string]int
	for i, v := range values {
		j, ok := e.index[v]
		if ok {
			result.Set(i, j, 1)
			continue
		}
		if e.HandleUnknown == HandleUnknownError {
			return nil, errors.NewUnseenCategoryError(e.Column, v, e.Categories())
		}
		if unknown == nil {
			unknown = make(map[string]int)
		}
		unknown[v]++
	}

	if len(unknown) > 0 {
		cats := make([]string, 0, len(unknown))
		for c := range unknown {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			errors.Warn(errors.NewUnknownCategoryWarning(e.Column, c, unknown[c]))
		}
	}
	return result, nil
}

// FitTransform は学習と変換を同時に実行する
func (e *OneHotEncoder) FitTransform(values []string) (*mat.Dense, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}

// InverseTransform はワンホット行列をカテゴリ名に戻す
// 各行はちょうど1つのビットが立っている必要がある。全ゼロの行は
// HandleUnknownIgnore の場合のみ空文字列として許容する
func (e *OneHotEncoder) InverseTransform(X mat.Matrix) ([]string, error) {
	if err := e.state.RequireFitted("OneHotEncoder", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != len(e.categories) {
		return nil, errors.NewDimensionError("OneHotEncoder.InverseTransform", len(e.categories), c, 1)
	}

	out := make([]string, r)
	for i := 0; i < r; i++ {
		hot := -1
		for j := 0; j < c; j++ {
			switch X.At(i, j) {
			case 0:
			case 1:
				if hot >= 0 {
					return nil, errors.NewValueError("OneHotEncoder.InverseTransform",
						fmt.Sprintf("row %d has more than one bit set", i))
				}
				hot = j
			default:
				return nil, errors.NewValueError("OneHotEncoder.InverseTransform",
					fmt.Sprintf("row %d contains non-binary value %g", i, X.At(i, j)))
			}
		}
		if hot < 0 {
			if e.HandleUnknown != HandleUnknownIgnore {
				return nil, errors.NewValueError("OneHotEncoder.InverseTransform",
					fmt.Sprintf("row %d has no bit set", i))
			}
			continue
		}
		out[i] = e.categories[hot]
	}
	return out, nil
}

// Categories は学習済みのカテゴリ一覧（出力列の順序）を返す
func (e *OneHotEncoder) Categories() []string {
	return append([]string(nil), e.categories...)
}

// FeatureNames は出力列名 "<column>_<category>" を返す
func (e *OneHotEncoder) FeatureNames() []string {
	names := make([]string, len(e.categories))
	for i, c := range e.categories {
		names[i] = e.Column + "_" + c
	}
	return names
}

// State は学習済みの状態を返す
func (e *OneHotEncoder) State() (EncoderState, error) {
	if err := e.state.RequireFitted("OneHotEncoder", "State"); err != nil {
		return EncoderState{}, err
	}
	return EncoderState{
		Column:        e.Column,
		Categories:    e.Categories(),
		HandleUnknown: e.HandleUnknown,
	}, nil
}

// String はエンコーダーの文字列表現を返す
func (e *OneHotEncoder) String() string {
	if !e.IsFitted() {
		return fmt.Sprintf("OneHotEncoder(column=%s, handle_unknown=%s)", e.Column, e.HandleUnknown)
	}
	return fmt.Sprintf("OneHotEncoder(column=%s, handle_unknown=%s, n_categories=%d)",
		e.Column, e.HandleUnknown, len(e.categories))
}
