package djvu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/scanbridge/internal/jobqueue"
)

// PdfMaker はリモート変換サービスにアイテムのPDF→DjVu変換を依頼し、
// 完成するまでポーリングして結果を取得します。
type PdfMaker struct {
	itemID  string
	dir     string
	baseURL string
	delay   time.Duration
	http    *http.Client
	log     *slog.Logger
}

func newPdfMaker(job *jobqueue.Job, jobDir string, deps Deps, log *slog.Logger) Maker {
	return &PdfMaker{
		itemID:  job.ItemID,
		dir:     jobDir,
		baseURL: deps.ConvertBaseURL,
		delay:   deps.PollDelay,
		http:    &http.Client{},
		log:     log,
	}
}

// convertError は変換サービスがエラー時に返すJSONボディです。
type convertError struct {
	Error int    `json:"error"`
	Text  string `json:"text"`
}

// サービスがまだ処理中であることを示すエラーコード。これら以外は致命的です。
func (e *convertError) stillProcessing() bool {
	return e.Error == 0 || e.Error == 3
}

// CreateLocalDjvu は変換の開始を依頼し、結果が返るまで一定間隔で取得を
// 試みます。
func (m *PdfMaker) CreateLocalDjvu(ctx context.Context) (string, error) {
	if m.baseURL == "" {
		return "", fmt.Errorf("remote conversion service is not configured")
	}

	m.log.Info("requesting start of remote conversion", "item", m.itemID)
	if err := m.request(ctx, "convert", func(io.Reader) error { return nil }); err != nil {
		return "", err
	}

	outputFile := filepath.Join(m.dir, m.itemID+".djvu")
	m.log.Info("starting download of converted document", "output", outputFile)
	for {
		var remoteErr *convertError
		err := m.request(ctx, "get", func(body io.Reader) error {
			data, err := io.ReadAll(body)
			if err != nil {
				return err
			}
			// 本文がエラーJSONなら処理中かどうかを判定する。
			var ce convertError
			if json.Unmarshal(data, &ce) == nil && ce.Text != "" {
				remoteErr = &ce
				return nil
			}
			if len(data) == 0 {
				return fmt.Errorf("conversion service returned an empty document")
			}
			return os.WriteFile(outputFile, data, 0o644)
		})
		if err != nil {
			return "", err
		}
		if remoteErr == nil {
			return outputFile, nil
		}
		if !remoteErr.stillProcessing() {
			return "", fmt.Errorf("remote conversion failed (code %d): %s", remoteErr.Error, remoteErr.Text)
		}

		m.log.Debug("conversion still in progress", "status", remoteErr.Text)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}
}

func (m *PdfMaker) request(ctx context.Context, cmd string, handle func(io.Reader) error) error {
	query := url.Values{
		"cmd":  {cmd},
		"item": {m.itemID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("conversion service request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("conversion service returned status %d", resp.StatusCode)
	}
	return handle(resp.Body)
}
