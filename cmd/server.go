package cmd

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"schedsrv/internal/config"
	"schedsrv/internal/journal"
	"schedsrv/internal/server"
	"schedsrv/internal/watch"
)

// コマンドラインオプション
var opts struct {
	config  string
	host    string
	port    int
	root    string
	strict  bool
	journal string
	watch   bool
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.config, "config", "", "YAML設定ファイル (デフォルト: $SCHEDSRV_CONFIG)")
	pf.StringVar(&opts.journal, "journal", "", "保存履歴のbboltファイル (空なら記録しない)")

	f := rootCmd.Flags()
	f.StringVar(&opts.host, "host", "", "サーバーのホスト (デフォルト: 全インターフェース)")
	f.IntVar(&opts.port, "port", 8000, "サーバーのポート")
	f.StringVar(&opts.root, "root", ".", "ドキュメントルート")
	f.BoolVar(&opts.strict, "strict", false, "パスの封じ込めチェックを有効にする")
	f.BoolVar(&opts.watch, "watch", false, "出力ディレクトリの外部変更をログに出す")
}

// loadConfig は設定を読み込み、指定されたオプションで上書きする
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFrom(opts.config)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("root") {
		cfg.Server.Root = opts.root
	}
	if flags.Changed("strict") {
		cfg.Server.Strict = opts.strict
	}
	if flags.Changed("journal") {
		cfg.Journal.Path = opts.journal
	}
	if flags.Changed("watch") {
		cfg.Watch.Enabled = opts.watch
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗しました: %w", err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	log.SetOutput(cmd.OutOrStdout())
	gin.SetMode(gin.ReleaseMode)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	srvOpts, err := serverOptions(cfg)
	if err != nil {
		return err
	}
	srv := server.New(cfg, srvOpts...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Start(ctx)
}

// serverOptions は設定に応じて保存履歴と監視を用意する
func serverOptions(cfg *config.Config) ([]server.Option, error) {
	var srvOpts []server.Option

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		var err error
		j, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		srvOpts = append(srvOpts, server.WithJournal(j))
	}

	if cfg.Watch.Enabled {
		w, err := watch.New(filepath.Join(cfg.Server.Root, cfg.Save.Prefix))
		if err != nil {
			if j != nil {
				j.Close()
			}
			return nil, fmt.Errorf("出力ディレクトリの監視に失敗しました: %w", err)
		}
		srvOpts = append(srvOpts, server.WithWatcher(w))
	}

	return srvOpts, nil
}
