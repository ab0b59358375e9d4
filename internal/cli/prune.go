package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/scanbridge/internal/runner"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "保持期間を過ぎたジョブディレクトリを削除する",
	Long: "記述子ファイルの更新時刻が保持期間より古いジョブを、ロックや失敗の\n" +
		"状態に関係なく削除します。",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEnv()
		if err != nil {
			return err
		}
		retention := time.Duration(e.cfg.RetentionDays) * 24 * time.Hour
		p := runner.NewPruner(e.store, retention, e.log)
		deleted, err := p.Run()
		for _, id := range deleted {
			cmd.Println("deleted:", id)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
