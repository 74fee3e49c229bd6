package schedule

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"schedsrv/internal/apperr"
)

// TimestampFormat はレスポンスの timestamp の書式（タイムゾーンなしのローカル時刻）
const TimestampFormat = "2006-01-02T15:04:05.000000"

var errInvalidPath = apperr.New(apperr.InvalidPath, "Invalid file path")

// Store はスケジュール文書をファイルシステムに保存する
type Store struct {
	root   string
	prefix string
	strict bool
	now    func() time.Time

	onWrite func(path string) // 書き込み直前に実パスで呼ばれる
}

// NewStore は新しいStoreを作成する
// root は filepath の基準ディレクトリ、prefix は filepath に要求する接頭辞
func NewStore(root, prefix string, strict bool) *Store {
	return &Store{
		root:   root,
		prefix: prefix,
		strict: strict,
		now:    time.Now,
	}
}

// OnWrite はファイルを書き込む直前に呼ばれる関数を登録する
func (s *Store) OnWrite(fn func(path string)) {
	s.onWrite = fn
}

// Prefix は保存先の接頭辞を返す
func (s *Store) Prefix() string {
	return s.prefix
}

// Dir は保存先ディレクトリの実パスを返す
func (s *Store) Dir() string {
	return filepath.Join(s.root, s.prefix)
}

// Save は既存ファイルをバックアップしてから文書を書き込む
// 書き込みはアトミックではなく、途中で失敗しても巻き戻さない
func (s *Store) Save(req *SaveRequest) (*SaveResult, error) {
	if err := s.checkPath(req.Filepath); err != nil {
		return nil, err
	}

	body, err := Format(req.Data)
	if err != nil {
		return nil, err
	}

	now := s.now()
	target := s.resolve(req.Filepath)
	result := &SaveResult{
		Success:   true,
		Filepath:  req.Filepath,
		Timestamp: now.Format(TimestampFormat),
		Bytes:     len(body),
	}

	// 保存前にバックアップを作成
	_, err = os.Stat(target)
	switch {
	case err == nil:
		backup := BackupPath(req.Filepath, now)
		s.notify(s.resolve(backup))
		if err := copyFile(target, s.resolve(backup)); err != nil {
			return nil, fmt.Errorf("backup %s: %w", req.Filepath, err)
		}
		result.BackupPath = backup
		log.Printf("✅ Backup created: %s", backup)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat %s: %w", req.Filepath, err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", req.Filepath, err)
	}
	s.notify(target)
	if err := os.WriteFile(target, body, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", req.Filepath, err)
	}

	// 件数を数えられない文書（null・数値・真偽値）は書き込み後にエラーとなる
	sessions, err := Count(req.Data)
	if err != nil {
		return nil, fmt.Errorf("count sessions in %s: %w", req.Filepath, err)
	}
	result.Sessions = sessions
	result.Message = fmt.Sprintf("Successfully saved %d sessions to %s", sessions, req.Filepath)
	log.Printf("✅ Saved %d sessions to %s", sessions, req.Filepath)

	return result, nil
}

// checkPath は保存先が許可された範囲にあるか確認する
func (s *Store) checkPath(path string) error {
	if !strings.HasPrefix(path, s.prefix) {
		return errInvalidPath
	}
	if !s.strict {
		return nil
	}

	// strict モードでは ".." による接頭辞外への脱出も拒否する
	rel, err := filepath.Rel(filepath.Clean(s.prefix), filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errInvalidPath
	}
	return nil
}

func (s *Store) notify(path string) {
	if s.onWrite != nil {
		s.onWrite(path)
	}
}

func (s *Store) resolve(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}
