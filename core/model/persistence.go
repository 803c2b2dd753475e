package model

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// SaveModel はモデルをzstd圧縮JSONとしてファイルに保存する
//
// パラメータ:
//   - model: 保存する値（JSONタグ付きの構造体）
//   - filename: 保存先のファイルパス。親ディレクトリは自動で作成される
//
// 使用例:
//
//	err := model.SaveModel(bundle, "artifacts/fraud/1/bundle.json.zst")
func SaveModel(model interface{}, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", filename)
	}

	// 途中で失敗しても既存ファイルを壊さないよう一時ファイル経由で置き換える
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer os.Remove(tmp.Name())

	if err := SaveModelToWriter(model, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close file")
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrapf(err, "failed to move model into %s", filename)
	}
	return nil
}

// LoadModel はSaveModelで保存したファイルを読み込む
//
// 使用例:
//
//	var b registry.Bundle
//	err := model.LoadModel(&b, "artifacts/fraud/1/bundle.json.zst")
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter はモデルをzstd圧縮JSONとしてio.Writerに書き込む
func SaveModelToWriter(model interface{}, w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return errors.Wrap(err, "failed to create zstd encoder")
	}
	if err := json.NewEncoder(enc).Encode(model); err != nil {
		enc.Close()
		return errors.Wrap(err, "failed to encode model")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "failed to flush zstd stream")
	}
	return nil
}

// LoadModelFromReader はio.Readerからzstd圧縮JSONを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "failed to create zstd decoder")
	}
	defer dec.Close()

	if err := json.NewDecoder(dec).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// Marshal はモデルをzstd圧縮JSONのバイト列に変換する
func Marshal(model interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := SaveModelToWriter(model, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal はMarshalの出力をモデルに復元する
func Unmarshal(data []byte, model interface{}) error {
	return LoadModelFromReader(model, bytes.NewReader(data))
}
