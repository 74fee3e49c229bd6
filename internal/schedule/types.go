package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"schedsrv/internal/apperr"
)

// SaveRequest は保存エンドポイントが受け取るリクエスト本文
type SaveRequest struct {
	Data     json.RawMessage `json:"data"`     // スケジュール文書（構造は検証しない）
	Filepath string          `json:"filepath"` // 保存先。接頭辞チェックの対象
}

// SaveResult は保存結果のレスポンス
type SaveResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Filepath  string `json:"filepath"`
	Timestamp string `json:"timestamp"`

	// 以下はレスポンスには含めない
	BackupPath string `json:"-"` // 作成したバックアップ。無ければ空
	Sessions   int    `json:"-"`
	Bytes      int    `json:"-"`
}

var emptyDocument = json.RawMessage("[]")

// ParseSaveRequest はリクエスト本文を解析する
// data が無い場合は空配列、filepath が無い場合は空文字列になる
func ParseSaveRequest(body []byte) (*SaveRequest, error) {
	var req SaveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperr.Wrap(apperr.Malformed, err)
	}
	if len(req.Data) == 0 {
		req.Data = emptyDocument
	}
	return &req, nil
}

// Count は文書の最上位要素数を返す
// 配列は要素数、オブジェクトはキー数、文字列は文字数
func Count(data json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0, apperr.New(apperr.Malformed, "empty document")
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return 0, apperr.Wrap(apperr.Malformed, err)
		}
		return len(items), nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return 0, apperr.Wrap(apperr.Malformed, err)
		}
		return len(fields), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, apperr.Wrap(apperr.Malformed, err)
		}
		return utf8.RuneCountInString(s), nil
	default:
		return 0, apperr.New(apperr.Malformed, fmt.Sprintf("document of type %s has no length", kindName(trimmed[0])))
	}
}

// Format は文書を2スペースでインデントする
// キーの順序と数値表記は受け取ったまま保持し、文字列は再エンコードする
// \uXXXX で送られた非ASCII文字もそのままの文字として書き出す
func Format(data json.RawMessage) ([]byte, error) {
	var buf, scratch bytes.Buffer
	enc := json.NewEncoder(&scratch)
	enc.SetEscapeHTML(false)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	f := &formatter{dec: dec, enc: enc, out: &buf, scratch: &scratch}
	if err := f.value(0); err != nil {
		return nil, apperr.Wrap(apperr.Malformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, apperr.New(apperr.Malformed, "unexpected data after top-level value")
	}
	return buf.Bytes(), nil
}

// formatter はトークン単位で文書を書き直す
type formatter struct {
	dec     *json.Decoder
	enc     *json.Encoder
	out     *bytes.Buffer
	scratch *bytes.Buffer
}

func (f *formatter) value(depth int) error {
	tok, err := f.dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '[':
			return f.array(depth)
		case '{':
			return f.object(depth)
		}
		return fmt.Errorf("unexpected delimiter %q", rune(v))
	case string:
		return f.str(v)
	case json.Number:
		f.out.WriteString(v.String())
	case bool:
		f.out.WriteString(strconv.FormatBool(v))
	case nil:
		f.out.WriteString("null")
	}
	return nil
}

func (f *formatter) array(depth int) error {
	f.out.WriteByte('[')
	n := 0
	for f.dec.More() {
		if n > 0 {
			f.out.WriteByte(',')
		}
		f.newline(depth + 1)
		if err := f.value(depth + 1); err != nil {
			return err
		}
		n++
	}
	return f.close(']', depth, n)
}

func (f *formatter) object(depth int) error {
	f.out.WriteByte('{')
	n := 0
	for f.dec.More() {
		if n > 0 {
			f.out.WriteByte(',')
		}
		f.newline(depth + 1)
		tok, err := f.dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("object key is %T, not a string", tok)
		}
		if err := f.str(key); err != nil {
			return err
		}
		f.out.WriteString(": ")
		if err := f.value(depth + 1); err != nil {
			return err
		}
		n++
	}
	return f.close('}', depth, n)
}

// close は閉じ括弧を読み進めて書き出す。空の配列・オブジェクトは改行しない
func (f *formatter) close(delim byte, depth, n int) error {
	if _, err := f.dec.Token(); err != nil {
		return err
	}
	if n > 0 {
		f.newline(depth)
	}
	f.out.WriteByte(delim)
	return nil
}

func (f *formatter) str(s string) error {
	f.scratch.Reset()
	if err := f.enc.Encode(s); err != nil {
		return err
	}
	f.out.Write(bytes.TrimSuffix(f.scratch.Bytes(), []byte("\n")))
	return nil
}

func (f *formatter) newline(depth int) {
	f.out.WriteByte('\n')
	for i := 0; i < depth; i++ {
		f.out.WriteString("  ")
	}
}

func kindName(b byte) string {
	switch b {
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}
