// Package runner はジョブキューを走査して変換ジョブを駆動する Job Runner と、
// 古いジョブを片付ける Pruner を提供します。どちらも外部スケジューラーから
// 定期的に起動される前提で、プロセス内の並行処理はありません。
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/scanbridge/internal/djvu"
	"github.com/yourusername/scanbridge/internal/jobqueue"
)

// uploadComment はアップロード時に付ける出典コメントです。
const uploadComment = "Imported from the digital archive by the scanbridge job queue"

// UploadClient は Job Runner が必要とするWiki境界です。
type UploadClient interface {
	CanUpload(ctx context.Context) (bool, error)
	Upload(ctx context.Context, fileName, path, text, comment string) error
}

// ClientFactory はジョブに保存されたユーザー資格情報からアップロード用
// クライアントを構築します。
type ClientFactory func(token jobqueue.AccessToken) UploadClient

// Runner はキュー内の未ロックジョブを1件ずつ完了まで処理します。
type Runner struct {
	store     *jobqueue.Store
	deps      djvu.Deps
	newClient ClientFactory
	staleness time.Duration
	log       *slog.Logger
}

// New は Runner を作成します。
func New(store *jobqueue.Store, deps djvu.Deps, newClient ClientFactory, staleness time.Duration, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		store:     store,
		deps:      deps,
		newClient: newClient,
		staleness: staleness,
		log:       log,
	}
}

// Run は現在列挙できる全ジョブを順に処理します。ジョブ間の隔離はなく、
// 1件の失敗は起動全体を中断します。失敗したジョブのディレクトリはロックごと
// 残り、次回以降の起動ではスキップされます（自動リトライはしません。
// 停滞検出は人間向けの報告専用です）。
func (r *Runner) Run(ctx context.Context) error {
	ids, err := r.store.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate jobs: %w", err)
	}

	for _, id := range ids {
		if r.store.IsLocked(id) {
			if r.staleness > 0 && r.store.IsStale(id, r.staleness) {
				r.log.Warn("locked job appears stalled", "item", id)
			}
			continue
		}
		if err := r.store.Claim(id); err != nil {
			if err == jobqueue.ErrLocked {
				// 別の起動が先に確保した。
				continue
			}
			return err
		}

		job, err := r.store.Load(id)
		if err != nil {
			return err
		}

		logger, closeLog, err := r.store.Logger(id)
		if err != nil {
			return err
		}
		err = r.process(ctx, job, logger)
		_ = closeLog()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) process(ctx context.Context, job *jobqueue.Job, logger *slog.Logger) error {
	// 何よりも先にアップロードできることを確かめる。資格情報の問題は
	// ジョブ固有ではなく環境の問題なので、起動全体を止める。
	client := r.newClient(job.UserAccessToken)
	ok, err := client.CanUpload(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify upload capability: %w", err)
	}
	if !ok {
		return fmt.Errorf("credential for %s does not grant upload capability", job.ItemID)
	}

	maker, err := djvu.NewMaker(job, r.store.Dir(job.ItemID), r.deps, logger)
	if err != nil {
		return err
	}

	logger.Info("creating document", "item", job.ItemID, "source", job.FileSource)
	localFile, err := maker.CreateLocalDjvu(ctx)
	if err != nil {
		logger.Error("document assembly failed", "severity", "critical", "error", err)
		return err
	}

	if job.RemoveFirstPage {
		if err := djvu.RemoveFirstPage(ctx, r.deps.Runner, r.deps.Tools, localFile, string(job.Format)); err != nil {
			logger.Error("failed to remove first page", "severity", "critical", "error", err)
			return err
		}
	}

	logger.Info("uploading", "file", localFile, "target", job.FullWikiName)
	if err := client.Upload(ctx, job.FullWikiName, localFile, job.Description, uploadComment); err != nil {
		logger.Error("upload failed", "severity", "critical", "error", err)
		return err
	}

	return r.store.Delete(job.ItemID)
}
