package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourusername/scanbridge/internal/runner"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "キュー内の未処理ジョブを順に処理する",
	Long: "キューを走査し、ロックされていないジョブを1件ずつ完了まで処理します。\n" +
		"処理中のジョブはロックファイルで保護され、別プロセスと衝突しません。",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEnv()
		if err != nil {
			return err
		}
		r := runner.New(e.store, e.deps, e.client, e.cfg.Staleness(), e.log)
		return r.Run(cmd.Context())
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "キュー内のジョブ一覧を表示する",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEnv()
		if err != nil {
			return err
		}
		ids, err := e.store.Enumerate()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			cmd.Println("キューは空です。")
			return nil
		}
		for _, id := range ids {
			state := "waiting"
			if e.store.IsLocked(id) {
				state = "locked"
				if e.store.IsStale(id, e.cfg.Staleness()) {
					state = "stalled"
				}
			}
			cmd.Println(fmt.Sprintf("%-40s %s", id, state))
		}
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	rootCmd.AddCommand(jobsCmd)
}
