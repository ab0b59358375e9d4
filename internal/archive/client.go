// Package archive はリモートのデジタルアーカイブ（アイテムのメタデータ取得と
// ファイルダウンロード）へのクライアントを提供します。
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Client はアーカイブAPIのクライアントです。
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient は Client を作成します。
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}
}

// FileDetails はアイテムの詳細（メタデータとファイル一覧）を取得します。
func (c *Client) FileDetails(ctx context.Context, itemID string) (*ItemDetails, error) {
	reqURL := fmt.Sprintf("%s/details/%s?output=json", c.baseURL, url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item details: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("item details request returned status %d", resp.StatusCode)
	}

	var details ItemDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("failed to parse item details: %w", err)
	}
	return &details, nil
}

// DownloadFile はアーカイブ上のファイルを localPath へダウンロードします。
// 一時ファイルに書き込んでからリネームするため、中断されても不完全なファイルが
// 最終パスに残ることはありません（存在チェックによる再開を安全にするため）。
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	reqURL := c.baseURL + "/download/" + remotePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s returned status %d", remotePath, resp.StatusCode)
	}

	staging := filepath.Join(filepath.Dir(localPath), ".part-"+uuid.NewString())
	file, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		_ = os.Remove(staging)
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(staging)
		return err
	}
	return os.Rename(staging, localPath)
}
