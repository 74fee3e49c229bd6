// Package cmd はschedsrvのコマンドラインを実装します
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "schedsrv",
	Short: "スケジュール管理用の開発サーバー",
	Long: `ドキュメントルートからHTML/JS/JSONファイルを配信し、
POST /api/save-schedule で編集したスケジュールを ./output/ 以下に保存します。
上書き前の内容はタイムスタンプ付きのバックアップとして残します。`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runServer,
}

// Execute はルートコマンドを実行する
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
