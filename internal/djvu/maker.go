// Package djvu はジョブディレクトリ内で最終的なページ化文書を組み立てます。
// 各段階の成果物の有無で進行状態を表すため、途中で落ちたジョブも次回の実行で
// 未完了の段階から再開できます。
package djvu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/scanbridge/internal/archive"
	"github.com/yourusername/scanbridge/internal/jobqueue"
)

// Maker は1ジョブ分の最終DjVuファイルを生成します。
type Maker interface {
	// CreateLocalDjvu は完成した文書ファイルの絶対パスを返します。
	// エラーなしで返る場合、ファイルは必ず存在し、空ではありません。
	CreateLocalDjvu(ctx context.Context) (string, error)
}

// Fetcher はアーカイブからのメタデータ取得とダウンロードを抽象化します。
type Fetcher interface {
	FileDetails(ctx context.Context, itemID string) (*archive.ItemDetails, error)
	DownloadFile(ctx context.Context, remotePath, localPath string) error
}

// CommandRunner は外部ツールの実行を抽象化します。
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	RunExit(ctx context.Context, name string, args ...string) (string, int, error)
}

// Tools は使用する外部ツールのコマンド名をまとめたものです。
type Tools struct {
	GraphicsMagick string // ページ画像の縮小・変換
	C44            string // 単一ページDjVuエンコード
	Djvm           string // 複数ページ結合・ページ削除
	DjvuXMLParser  string // テキストレイヤー注入
	Djvused        string // テキストレイヤー検証・修復
}

// Deps は Maker が必要とする依存一式です。
type Deps struct {
	Archive        Fetcher
	Runner         CommandRunner
	Tools          Tools
	ConvertBaseURL string        // リモートPDF変換サービスのURL
	PollDelay      time.Duration // 同サービスのポーリング間隔
}

type factory func(job *jobqueue.Job, jobDir string, deps Deps, log *slog.Logger) Maker

// makers は変換元タグから Maker への静的な対応表です。
// 実行時には変更しません。ネイティブファイル (djvu) はキューに乗らないため
// ここには現れません。
var makers = map[jobqueue.FileSource]factory{
	jobqueue.SourceJp2: newJp2Maker,
	jobqueue.SourcePDF: newPdfMaker,
}

// NewMaker はジョブの変換元に応じた Maker を返します。
// 未登録のタグは設定異常として明示的なエラーになります。
func NewMaker(job *jobqueue.Job, jobDir string, deps Deps, log *slog.Logger) (Maker, error) {
	create, ok := makers[job.FileSource]
	if !ok {
		return nil, fmt.Errorf("no document maker registered for source %q", job.FileSource)
	}
	return create(job, jobDir, deps, log), nil
}
