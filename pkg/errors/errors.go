// Package errors はfeaturepipe全体のエラーハンドリングと警告システムを提供します。
// 特徴量変換・学習・レジストリ・特徴量ストアの各層で共通の構造化エラー型を定義し、
// cockroachdb/errors によるスタックトレースと zerolog による構造化ログ出力に対応します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("featurepipe-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler は警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// UnknownCategoryWarning は handle_unknown=ignore の設定で未知カテゴリを
// ゼロベクトルに変換した場合に発生する警告です。
type UnknownCategoryWarning struct {
	Column   string
	Category string
	Rows     int
}

func (w *UnknownCategoryWarning) Error() string {
	return fmt.Sprintf("unknown category %q in column '%s' encoded as all-zero vector (%d rows)", w.Category, w.Column, w.Rows)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UnknownCategoryWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("column", w.Column).
		Str("category", w.Category).
		Int("rows", w.Rows).
		Str("type", "UnknownCategoryWarning")
}

// NewUnknownCategoryWarning は新しいUnknownCategoryWarningを作成します。
func NewUnknownCategoryWarning(column, category string, rows int) *UnknownCategoryWarning {
	return &UnknownCategoryWarning{Column: column, Category: category, Rows: rows}
}

// DroppedBatchWarning はミニバッチ分割で末尾の端数行が学習に使われなかった場合の警告です。
type DroppedBatchWarning struct {
	Rows      int
	BatchSize int
	Dropped   int
}

func (w *DroppedBatchWarning) Error() string {
	return fmt.Sprintf("%d of %d rows are dropped every epoch (batch_size=%d, trailing partial batch is not used)", w.Dropped, w.Rows, w.BatchSize)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *DroppedBatchWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Int("rows", w.Rows).
		Int("batch_size", w.BatchSize).
		Int("dropped", w.Dropped).
		Str("type", "DroppedBatchWarning")
}

// NewDroppedBatchWarning は新しいDroppedBatchWarningを作成します。
func NewDroppedBatchWarning(rows, batchSize, dropped int) *DroppedBatchWarning {
	return &DroppedBatchWarning{Rows: rows, BatchSize: batchSize, Dropped: dropped}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// NotFittedError は未学習の状態で `Predict` や `Transform` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("featurepipe: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("featurepipe: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("featurepipe: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// ValueError は引数の値が不適切または不正な場合に発生するエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("featurepipe: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// ModelError はモデルや変換器に関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("featurepipe: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("featurepipe: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// ===========================================================================
//
//	特徴量パイプライン特有のエラー型
//
// ===========================================================================

// MalformedVectorError は特徴量ベクトルの要素数や型がスキーマと一致しない場合のエラーです。
type MalformedVectorError struct {
	Index  int    // 入力シーケンス内のベクトル位置
	Column string // 問題のある列名（要素数不一致の場合は空）
	Reason string
}

func (e *MalformedVectorError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("featurepipe: malformed feature vector at index %d, column '%s': %s", e.Index, e.Column, e.Reason)
	}
	return fmt.Sprintf("featurepipe: malformed feature vector at index %d: %s", e.Index, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *MalformedVectorError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("index", e.Index).
		Str("column", e.Column).
		Str("reason", e.Reason).
		Str("type", "MalformedVectorError")
}

// NewArityError は要素数不一致のMalformedVectorErrorを作成します。
func NewArityError(index, expected, got int) error {
	err := &MalformedVectorError{
		Index:  index,
		Reason: fmt.Sprintf("expected %d values, got %d", expected, got),
	}
	return errors.WithStack(err)
}

// NewMalformedVectorError は列単位のMalformedVectorErrorを作成します。
func NewMalformedVectorError(index int, column, reason string) error {
	err := &MalformedVectorError{Index: index, Column: column, Reason: reason}
	return errors.WithStack(err)
}

// UnseenCategoryError は学習時に存在しなかったカテゴリが変換時に現れた場合のエラーです。
type UnseenCategoryError struct {
	Column   string
	Category string
	Known    []string
}

func (e *UnseenCategoryError) Error() string {
	return fmt.Sprintf("featurepipe: unseen category %q in column '%s' (known: %v)", e.Category, e.Column, e.Known)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *UnseenCategoryError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("column", e.Column).
		Str("category", e.Category).
		Strs("known", e.Known).
		Str("type", "UnseenCategoryError")
}

// NewUnseenCategoryError は新しいUnseenCategoryErrorを作成し、スタックトレースを付与します。
func NewUnseenCategoryError(column, category string, known []string) error {
	err := &UnseenCategoryError{Column: column, Category: category, Known: known}
	return errors.WithStack(err)
}

// ArtifactNotFoundError はモデルレジストリに名前・バージョンが存在しない場合のエラーです。
// Version が 0 の場合は「最新版」の検索に失敗したことを示します。
type ArtifactNotFoundError struct {
	Name    string
	Version int
}

func (e *ArtifactNotFoundError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("featurepipe: artifact '%s' has no registered versions", e.Name)
	}
	return fmt.Sprintf("featurepipe: artifact '%s' version %d not found", e.Name, e.Version)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ArtifactNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("name", e.Name).
		Int("version", e.Version).
		Str("type", "ArtifactNotFoundError")
}

// NewArtifactNotFoundError は新しいArtifactNotFoundErrorを作成し、スタックトレースを付与します。
func NewArtifactNotFoundError(name string, version int) error {
	err := &ArtifactNotFoundError{Name: name, Version: version}
	return errors.WithStack(err)
}

// FeatureVectorNotFoundError は特徴量ストアに主キーが存在しない場合のエラーです。
type FeatureVectorNotFoundError struct {
	View string
	Key  string
}

func (e *FeatureVectorNotFoundError) Error() string {
	return fmt.Sprintf("featurepipe: no feature vector for key %q in view '%s'", e.Key, e.View)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *FeatureVectorNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("view", e.View).
		Str("key", e.Key).
		Str("type", "FeatureVectorNotFoundError")
}

// NewFeatureVectorNotFoundError は新しいFeatureVectorNotFoundErrorを作成します。
func NewFeatureVectorNotFoundError(view, key string) error {
	err := &FeatureVectorNotFoundError{View: view, Key: key}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	数値計算エラー
//
// ===========================================================================

// NumericalInstabilityError は数値計算が不安定になった場合のエラーです。
// NaN、Inf などを検出します。
type NumericalInstabilityError struct {
	Operation string                 // 発生した操作（例: "batch_loss", "adam_step"）
	Values    []float64              // 問題のある値
	Context   map[string]interface{} // デバッグ用の追加コンテキスト情報
	Iteration int                    // 発生したイテレーション番号
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("featurepipe: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
		Context:   make(map[string]interface{}),
	}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrAlreadyFitted は学習済みの変換器を再学習しようとした場合のエラーです。
	ErrAlreadyFitted = New("already fitted")
)
