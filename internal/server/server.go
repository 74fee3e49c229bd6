package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	"schedsrv/internal/config"
	"schedsrv/internal/journal"
	"schedsrv/internal/schedule"
	"schedsrv/internal/static"
	"schedsrv/internal/watch"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener

	store   *schedule.Store
	assets  assetOpener
	journal *journal.Journal // nil なら履歴を記録しない
	watcher *watch.Watcher   // nil なら監視しない

	// リクエストを1件ずつ処理するためのロック
	dispatchMu sync.Mutex
	closeOnce  sync.Once
	closeErr   error
}

// assetOpener はURLパスに対応するファイルを読み出す
type assetOpener interface {
	Open(urlPath string) (*static.Asset, error)
}

// Option はServerの任意設定
type Option func(*Server)

// WithJournal は保存履歴を有効にする。Close 時に閉じられる
func WithJournal(j *journal.Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithWatcher は出力ディレクトリの監視を有効にする。Close 時に停止される
func WithWatcher(w *watch.Watcher) Option {
	return func(s *Server) { s.watcher = w }
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		store:  schedule.NewStore(cfg.Server.Root, cfg.Save.Prefix, cfg.Server.Strict),
		assets: static.NewResolver(cfg.Server.Root, cfg.Server.Strict),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.watcher != nil {
		s.store.OnWrite(s.watcher.Suppress)
	}

	s.engine = s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Listen はリッスンソケットを開く
// Start より前に呼ぶと、ポート0で割り当てられた番号を Port で確認できる
func (s *Server) Listen() error {
	addr := s.config.ServerAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("リッスンに失敗 %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Port は実際にリッスンしているポート番号を返す
func (s *Server) Port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Server.Port
}

// Start はサーバーを起動し、コンテキストのキャンセルかシグナルまでブロックする
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.printBanner()

	if s.watcher != nil {
		go s.watcher.Run(func(e watch.Event) {
			log.Printf("📝 %s: %s", e.Op, e.Path)
		})
	}

	serveCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-serveCh:
		_ = s.Close()
		return err
	}

	log.Println("🛑 Server stopped by user")
	return s.Close()
}

// Close はリッスンソケットを閉じてサーバーを停止する
// 処理中のリクエストは待たない。冪等
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		if err := s.httpServer.Close(); err != nil {
			s.closeErr = fmt.Errorf("サーバーの停止に失敗: %w", err)
		}
		if s.listener != nil {
			// Serve 前に閉じる場合のため。既に閉じていればエラーは無視する
			_ = s.listener.Close()
		}
		if s.watcher != nil {
			_ = s.watcher.Stop()
		}
		if s.journal != nil {
			if err := s.journal.Close(); err != nil && s.closeErr == nil {
				s.closeErr = fmt.Errorf("履歴のクローズに失敗: %w", err)
			}
		}
	})
	return s.closeErr
}

func (s *Server) printBanner() {
	log.Printf("🚀 Schedule Manager Server running on http://localhost:%d", s.Port())
	log.Printf("📁 Serving files from %s", describeRoot(s.config.Server.Root))
	log.Println("💾 API endpoint: POST /api/save-schedule")
	log.Println("🔄 CORS enabled for all origins")
	if s.journal != nil {
		log.Printf("📒 Save journal: %s", s.config.Journal.Path)
	}
	if s.watcher != nil {
		log.Printf("👀 Watching %s for external changes", s.store.Dir())
	}
	log.Println("Press Ctrl+C to stop the server")
}

func describeRoot(root string) string {
	if root == "." {
		return "current directory"
	}
	return root
}
