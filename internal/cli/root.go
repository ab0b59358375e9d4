// Package cli はジョブキューを操作するコマンドラインツールを提供します。
// cron などの外部スケジューラーからサブコマンドを定期実行する使い方を
// 想定しています。
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/scanbridge/internal/archive"
	"github.com/yourusername/scanbridge/internal/config"
	"github.com/yourusername/scanbridge/internal/djvu"
	"github.com/yourusername/scanbridge/internal/jobqueue"
	"github.com/yourusername/scanbridge/internal/runner"
	"github.com/yourusername/scanbridge/internal/toolrunner"
	"github.com/yourusername/scanbridge/internal/wiki"
)

var rootCmd = &cobra.Command{
	Use:           "scanbridge-queue",
	Short:         "デジタルアーカイブ取り込みジョブキューの管理ツール",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute はルートコマンドを実行します。cmd/queue から呼ばれます。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env は設定から組み立てた実行環境一式です。各サブコマンドで共有します。
type env struct {
	cfg    *config.Config
	store  *jobqueue.Store
	deps   djvu.Deps
	client runner.ClientFactory
	log    *slog.Logger
}

// buildEnv は設定を読み込み、全サブコマンド共通の依存を構築します。
func buildEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store := jobqueue.NewStore(cfg.QueueDir)
	archiveClient := archive.NewClient(cfg.ArchiveBaseURL)
	tools := djvu.Tools{
		GraphicsMagick: cfg.GraphicsMagickPath,
		C44:            cfg.C44Path,
		Djvm:           cfg.DjvmPath,
		DjvuXMLParser:  cfg.DjvuXMLParserPath,
		Djvused:        cfg.DjvusedPath,
	}
	deps := djvu.Deps{
		Archive:        archiveClient,
		Runner:         toolrunner.New(),
		Tools:          tools,
		ConvertBaseURL: cfg.ConvertBaseURL,
		PollDelay:      time.Duration(cfg.PollDelaySeconds) * time.Second,
	}

	consumer := wiki.Consumer{
		Key:    cfg.OAuthConsumerKey,
		Secret: cfg.OAuthConsumerSecret,
	}
	clientFactory := func(token jobqueue.AccessToken) runner.UploadClient {
		return wiki.NewClient(cfg.WikiBaseURL, wiki.NewCredentialedClient(consumer, token))
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return &env{
		cfg:    cfg,
		store:  store,
		deps:   deps,
		client: clientFactory,
		log:    log,
	}, nil
}
