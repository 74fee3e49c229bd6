package schedule

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// BackupTimeFormat はバックアップ名に埋め込む時刻の書式 (YYYYMMDD_HHMMSS)
const BackupTimeFormat = "20060102_150405"

const jsonSuffix = ".json"

// BackupPath は path のバックアップ先を返す
// 最後の ".json" の直前に "_backup_<時刻>" を挿入する。".json" を含まない場合は末尾に付ける
func BackupPath(path string, t time.Time) string {
	stamp := "_backup_" + t.Format(BackupTimeFormat)
	i := strings.LastIndex(path, jsonSuffix)
	if i < 0 {
		return path + stamp
	}
	return path[:i] + stamp + path[i:]
}

// copyFile は src を dst へコピーし、パーミッションと更新時刻も引き継ぐ
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// umask の影響を受けないよう明示的に設定する
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
