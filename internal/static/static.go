// Package static はドキュメントルートからHTML/JS/JSONファイルを読み出します。
package static

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"schedsrv/internal/apperr"
)

// Asset は読み出したファイル
type Asset struct {
	Path        string // ドキュメントルートからの相対パス
	ContentType string
	Body        []byte
	CORS        bool // Access-Control-Allow-Origin を付けるか
}

type assetType struct {
	suffix      string
	contentType string
	cors        bool
}

// 配信する拡張子はこの3つのみ
var assetTypes = []assetType{
	{".html", "text/html", false},
	{".js", "application/javascript", false},
	{".json", "application/json", true},
}

var errFileNotFound = apperr.New(apperr.NotFound, "File not found")

// Resolver はURLパスをファイルに対応付ける
type Resolver struct {
	root     string
	strict   bool
	readFile func(name string) ([]byte, error)
}

// NewResolver は新しいResolverを作成する
// strict が false の場合、".." を含むパスもそのまま扱う
func NewResolver(root string, strict bool) *Resolver {
	return &Resolver{root: root, strict: strict, readFile: os.ReadFile}
}

// Open はURLパスに対応するファイルを読み出す
// "/" は "/index.html" として扱う
func (r *Resolver) Open(urlPath string) (*Asset, error) {
	if urlPath == "/" {
		urlPath = "/index.html"
	}

	typ, ok := lookupType(urlPath)
	if !ok {
		return nil, errFileNotFound
	}

	rel := strings.TrimPrefix(urlPath, "/")
	if r.strict {
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return nil, errFileNotFound
		}
	}

	body, err := r.readFile(filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.NotFound:
			return nil, errFileNotFound
		case apperr.Permission:
			// 種類は区別して残すが、応答は他の読み出し失敗と同じ 500
			return nil, apperr.Wrap(apperr.Permission, err)
		default:
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
	}

	return &Asset{
		Path:        rel,
		ContentType: typ.contentType,
		Body:        body,
		CORS:        typ.cors,
	}, nil
}

func lookupType(urlPath string) (assetType, bool) {
	for _, t := range assetTypes {
		if strings.HasSuffix(urlPath, t.suffix) {
			return t, true
		}
	}
	return assetType{}, false
}
