package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"schedsrv/internal/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "保存履歴を表示する",
	Long:  "保存履歴 (--journal または SCHEDSRV_JOURNAL) を読み、新しい保存から順に表示します。",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "表示する件数 (0 で全件)")
}

// runHistory は保存履歴を新しい順に出力する
func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return errors.New("保存履歴が設定されていません (--journal または SCHEDSRV_JOURNAL を指定してください)")
	}

	j, err := journal.OpenReadOnly(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("%w (サーバーが起動中の場合は停止してください)", err)
	}
	defer j.Close()

	entries, err := j.Recent(historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "no saves recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-40s  %5d sessions", e.SavedAt.Local().Format(time.DateTime), e.Filepath, e.Sessions)
		if e.BackupPath != "" {
			fmt.Fprintf(out, "  backup: %s", e.BackupPath)
		}
		fmt.Fprintln(out)
	}
	return nil
}
