// Package watch は出力ディレクトリ内で、サーバー自身以外が行った変更
// （手で編集されたスケジュールなど）を通知します。
package watch

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SuppressWindow は Suppress の後、同じパスのイベントを無視する期間
const SuppressWindow = time.Second

// Event は監視ディレクトリで検出した変更
type Event struct {
	Path string
	Op   string // "create"・"write"・"remove"・"rename" のいずれか
}

// Watcher は1つのディレクトリを監視する（再帰はせず、監視中に作成されたディレクトリは追加する）
type Watcher struct {
	fw   *fsnotify.Watcher
	errs <-chan error
	done chan struct{}

	mu         sync.Mutex
	stopped    bool
	suppressed map[string]time.Time
	now        func() time.Time
}

// New は dir の監視を開始する。ディレクトリが無ければ作成する
func New(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		fw:         fw,
		errs:       fw.Errors,
		done:       make(chan struct{}),
		suppressed: make(map[string]time.Time),
		now:        time.Now,
	}, nil
}

// Suppress は path をサーバー自身の書き込みとして記録する
// SuppressWindow 以内のイベントは通知しない
func (w *Watcher) Suppress(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	w.mu.Lock()
	w.suppressed[abs] = w.now()
	w.mu.Unlock()
}

// Run は Stop が呼ばれるまでイベントを onChange に渡す
func (w *Watcher) Run(onChange func(Event)) {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fw.Add(event.Name); err != nil {
						log.Printf("⚠️ Failed to watch %s: %v", event.Name, err)
					}
				}
			}
			op := opName(event.Op)
			if op == "" || w.isSuppressed(event.Name) {
				continue
			}
			onChange(Event{Path: event.Name, Op: op})

		case err, ok := <-w.errs:
			if !ok {
				return
			}
			log.Printf("⚠️ Watch error: %v", err)

		case <-w.done:
			return
		}
	}
}

// Stop は監視を終了する。複数回呼んでもよい
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) isSuppressed(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.suppressed[abs]
	if !ok {
		return false
	}
	if w.now().Sub(at) > SuppressWindow {
		delete(w.suppressed, abs)
		return false
	}
	return true
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
