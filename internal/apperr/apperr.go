// Package apperr は要求処理中のエラーを種類ごとに分類します。
//
// 種類はログと分岐に使い、HTTPステータスコードは Status で決まります。
package apperr

import (
	"errors"
	"io/fs"
	"net/http"
)

// Kind はエラーの種類
type Kind int

// Kind の定数定義
const (
	Internal    Kind = iota // 分類できないI/Oエラーなど
	NotFound                // ファイルやエンドポイントが存在しない
	Permission              // 権限不足
	InvalidPath             // 許可されていないパス
	Malformed               // 不正な入力
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Permission:
		return "permission"
	case InvalidPath:
		return "invalid_path"
	case Malformed:
		return "malformed"
	default:
		return "internal"
	}
}

// Status は種類に対応するHTTPステータスコードを返す
func (k Kind) Status() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case InvalidPath:
		return http.StatusBadRequest
	default:
		// 権限不足と不正な入力も内部エラーと同じく 500 として返す
		return http.StatusInternalServerError
	}
}

// Error は種類付きのエラー
type Error struct {
	Kind Kind
	Msg  string // 利用者向けメッセージ。空なら Err の内容
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New はメッセージのみのエラーを作成する
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap は err に種類を付ける
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf は err の種類を判定する
// 種類付きでないエラーはファイルシステムのエラーとして分類する
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	case errors.Is(err, fs.ErrPermission):
		return Permission
	default:
		return Internal
	}
}
