// Package journal は成功した保存をbboltデータベースに記録します。
//
// エントリは追記のみで、ビッグエンディアンの連番をキーにします。
// カーソルを末尾から辿ると新しい保存から順に得られます。
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketSaves = []byte("saves")

// Entry は1回の保存の記録
type Entry struct {
	ID         string    `json:"id"`
	Filepath   string    `json:"filepath"`
	BackupPath string    `json:"backup_path,omitempty"`
	Sessions   int       `json:"sessions"`
	Bytes      int       `json:"bytes"`
	SavedAt    time.Time `json:"saved_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Journal はbboltに保存する保存履歴
type Journal struct {
	db *bolt.DB
}

// Open は path の保存履歴を開く。無ければ作成する
// 開いている間はファイルがロックされ、別プロセスはタイムアウトする
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSaves)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal init: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenReadOnly は既存の保存履歴を読み取り専用で開く
func OpenReadOnly(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("journal open %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// Close はデータベースを閉じる
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record は e を追記する。ID と SavedAt が空なら埋める
func (j *Journal) Record(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now()
	}

	value, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("marshal entry: %w", err)
	}

	err = j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSaves)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), value)
	})
	if err != nil {
		return e, fmt.Errorf("journal record: %w", err)
	}
	return e, nil
}

// Recent は新しい順に最大 limit 件を返す。limit が0以下なら全件
func (j *Journal) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSaves)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Count は記録された保存の件数を返す
func (j *Journal) Count() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketSaves); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
