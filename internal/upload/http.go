// Package upload はジョブ投入・ログ閲覧・成果物ダウンロードのHTTPハンドラーを
// 提供します。変換が必要なジョブは記述子をキューへ書き込むだけで応答し
// （fire-and-forget）、ネイティブファイルはその場でダウンロードして
// アップロードします。
package upload

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/scanbridge/internal/archive"
	"github.com/yourusername/scanbridge/internal/djvu"
	"github.com/yourusername/scanbridge/internal/jobqueue"
	"github.com/yourusername/scanbridge/internal/wiki"
)

// ArchiveClient はアーカイブ境界のうちハンドラーが使う操作です。
type ArchiveClient interface {
	FileDetails(ctx context.Context, itemID string) (*archive.ItemDetails, error)
	DownloadFile(ctx context.Context, remotePath, localPath string) error
}

// WikiClient はWiki境界のうちハンドラーが使う操作です。
type WikiClient interface {
	CanUpload(ctx context.Context) (bool, error)
	PageExists(ctx context.Context, title string) (bool, error)
	Upload(ctx context.Context, fileName, path, text, comment string) error
}

// WikiFactory はリクエストで渡されたユーザー資格情報からWikiクライアントを
// 構築します。
type WikiFactory func(token jobqueue.AccessToken) WikiClient

// Service はハンドラーが必要とする依存一式です。
type Service struct {
	Store     *jobqueue.Store
	Archive   ArchiveClient
	NewWiki   WikiFactory
	Runner    djvu.CommandRunner
	Tools     djvu.Tools
	Staleness time.Duration
}

// SubmitRequest は POST /api/jobs のリクエストボディです。
type SubmitRequest struct {
	ItemID          string               `json:"itemId" binding:"required"`
	WikiName        string               `json:"wikiName" binding:"required"`
	Format          jobqueue.Format      `json:"format"`
	FileSource      jobqueue.FileSource  `json:"fileSource"`
	Description     string               `json:"description" binding:"required"`
	RemoveFirstPage bool                 `json:"removeFirstPage"`
	AccessToken     jobqueue.AccessToken `json:"accessToken"`
}

var trailingExtension = regexp.MustCompile(`(?i)\.(pdf|djvu)$`)

// SubmitHandler は POST /api/jobs のハンドラーを返します。
func SubmitHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "itemId・wikiName・description をすべて指定してください。",
			})
			return
		}
		if req.Format == "" {
			req.Format = jobqueue.FormatDjvu
		}
		if req.FileSource == "" {
			req.FileSource = jobqueue.SourceJp2
		}

		// 末尾の拡張子は除いたうえでタイトルを正規化する。
		wikiName := wiki.NormalizePageTitle(trailingExtension.ReplaceAllString(req.WikiName, ""))
		fullWikiName := wikiName + "." + string(req.Format)

		ctx := c.Request.Context()
		wikiClient := svc.NewWiki(req.AccessToken)

		// 同名ファイルが既にあれば受け付けない。
		exists, err := wikiClient.PageExists(ctx, "File:"+fullWikiName)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if exists {
			respondWithError(c, newError("ALREADY_EXISTS",
				"同名のファイルが既にWiki上に存在します。", nil))
			return
		}

		// アイテムが実在することを確かめ、正規化済みIDを使う。
		details, err := svc.Archive.FileDetails(ctx, req.ItemID)
		if err != nil {
			respondWithError(c, newError("ITEM_NOT_FOUND",
				"指定されたアイテムがアーカイブに見つかりません。", err))
			return
		}
		itemID := details.Identifier()
		if itemID == "" {
			itemID = req.ItemID
		}

		languageCategory := archive.LanguageCategory(
			archive.NormalizeLanguageCode(details.Language()))

		job := &jobqueue.Job{
			ItemID:          itemID,
			WikiName:        wikiName,
			FullWikiName:    fullWikiName,
			Format:          req.Format,
			FileSource:      req.FileSource,
			Description:     req.Description,
			RemoveFirstPage: req.RemoveFirstPage,
			UserAccessToken: req.AccessToken,
			CreatedAt:       time.Now().UTC(),
		}

		// DjVuを組み立てる必要がある場合だけキューに入れる。ネイティブ
		// ファイルはその場で処理しても長くはかからない。
		if job.Format == jobqueue.FormatDjvu &&
			(job.FileSource == jobqueue.SourceJp2 || job.FileSource == jobqueue.SourcePDF) {
			if err := svc.Store.Write(job); err != nil {
				respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{
				"itemId":           job.ItemID,
				"queued":           true,
				"languageCategory": languageCategory,
			})
			return
		}

		if err := svc.directUpload(ctx, wikiClient, details, job); err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"itemId":           job.ItemID,
			"queued":           false,
			"fileName":         job.FullWikiName,
			"languageCategory": languageCategory,
		})
	}
}

// directUpload はアイテムのネイティブファイルをダウンロードしてそのまま
// アップロードします。失敗時は作業ディレクトリを残しません。
func (svc *Service) directUpload(ctx context.Context, wikiClient WikiClient, details *archive.ItemDetails, job *jobqueue.Job) error {
	remote := details.FileWithSuffix("." + string(job.Format))
	if remote == "" {
		return newError("NO_NATIVE_FILE",
			"アイテムに該当形式のファイルがありません。", nil)
	}

	jobDir := svc.Store.Dir(job.ItemID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return err
	}
	localFile := filepath.Join(jobDir, filepath.Base(remote))

	cleanup := func() {
		_ = svc.Store.Delete(job.ItemID)
	}

	if err := svc.Archive.DownloadFile(ctx, job.ItemID+remote, localFile); err != nil {
		cleanup()
		return err
	}

	if job.Format == jobqueue.FormatPDF {
		kind, err := mimetype.DetectFile(localFile)
		if err != nil || !kind.Is("application/pdf") {
			cleanup()
			return newError("UNSUPPORTED_FILE",
				"ダウンロードしたファイルがPDFではありません。", err)
		}
		if err := djvu.ValidatePDF(localFile); err != nil {
			cleanup()
			return newError("UNSUPPORTED_FILE",
				"ダウンロードしたPDFが壊れています。", err)
		}
	}

	if job.RemoveFirstPage {
		if err := djvu.RemoveFirstPage(ctx, svc.Runner, svc.Tools, localFile, string(job.Format)); err != nil {
			cleanup()
			return err
		}
	}

	comment := "Imported from the digital archive via scanbridge"
	if err := wikiClient.Upload(ctx, job.FullWikiName, localFile, job.Description, comment); err != nil {
		cleanup()
		return err
	}

	// アップロードされたことを確認してから片付ける。
	exists, err := wikiClient.PageExists(ctx, "File:"+job.FullWikiName)
	if err == nil && !exists {
		cleanup()
		return newError("UPLOAD_FAILED", "ファイルのアップロードに失敗しました。", nil)
	}
	cleanup()
	return nil
}

// ListHandler は GET /api/jobs のハンドラーを返します。キュー内の全ジョブの
// 状態（ロック・停滞）を一覧します。
func ListHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := svc.Store.Enumerate()
		if err != nil {
			respondWithError(c, err)
			return
		}
		entries := make([]gin.H, 0, len(ids))
		for _, id := range ids {
			locked := svc.Store.IsLocked(id)
			entries = append(entries, gin.H{
				"itemId": id,
				"locked": locked,
				"stale":  locked && svc.Staleness > 0 && svc.Store.IsStale(id, svc.Staleness),
			})
		}
		c.JSON(http.StatusOK, gin.H{"jobs": entries})
	}
}

// LogviewHandler は GET /api/jobs/:id/log のハンドラーを返します。
func LogviewHandler(store *jobqueue.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		itemID := c.Param("id")
		data, err := os.ReadFile(store.LogPath(itemID))
		if err != nil {
			c.String(http.StatusOK, "No log available.")
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
	}
}

// DownloadHandler は GET /api/jobs/:id/djvu のハンドラーを返します。
// 組み立てが終わった結合済み文書をダウンロードできます。
func DownloadHandler(store *jobqueue.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		itemID := c.Param("id")
		path := filepath.Join(store.Dir(itemID), itemID+".djvu")
		info, err := os.Stat(path)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "成果物がまだ存在しません。",
			})
			return
		}
		file, err := os.Open(path)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer file.Close()
		c.Header("Content-Disposition", `attachment; filename="`+itemID+`.djvu"`)
		c.DataFromReader(http.StatusOK, info.Size(), "image/vnd.djvu", file, nil)
	}
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case "ALREADY_EXISTS":
			status = http.StatusConflict
		case "ITEM_NOT_FOUND":
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
