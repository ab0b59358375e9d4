// Package wiki はアップロード先Wikiへの境界クライアントを提供します。
// アップロード、ページ存在確認、資格情報の権限確認のみを扱います。
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Client はWiki APIのクライアントです。
type Client struct {
	apiURL string
	http   *http.Client
}

// NewClient は Client を作成します。httpClient には資格情報付きの
// クライアント（NewCredentialedClient の戻り値）を渡します。
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiURL: strings.TrimRight(baseURL, "/") + "/w/api.php",
		http:   httpClient,
	}
}

type apiResponse struct {
	Query struct {
		UserInfo struct {
			Rights []string `json:"rights"`
		} `json:"userinfo"`
		Tokens struct {
			CSRFToken string `json:"csrftoken"`
		} `json:"tokens"`
		Pages map[string]struct {
			Missing *string `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
	Upload struct {
		Result string `json:"result"`
	} `json:"upload"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// CanUpload はアクティブな資格情報がアップロード権限を持つか確認します。
func (c *Client) CanUpload(ctx context.Context) (bool, error) {
	resp, err := c.get(ctx, url.Values{
		"action": {"query"},
		"meta":   {"userinfo"},
		"uiprop": {"rights"},
		"format": {"json"},
	})
	if err != nil {
		return false, err
	}
	for _, right := range resp.Query.UserInfo.Rights {
		if right == "upload" {
			return true, nil
		}
	}
	return false, nil
}

// PageExists は指定タイトルのページが存在するか確認します。
func (c *Client) PageExists(ctx context.Context, title string) (bool, error) {
	resp, err := c.get(ctx, url.Values{
		"action": {"query"},
		"titles": {title},
		"format": {"json"},
	})
	if err != nil {
		return false, err
	}
	for id, page := range resp.Query.Pages {
		if id == "-1" || page.Missing != nil {
			return false, nil
		}
	}
	return len(resp.Query.Pages) > 0, nil
}

// Upload はローカルファイルを指定のファイル名でアップロードします。
func (c *Client) Upload(ctx context.Context, fileName, path, text, comment string) error {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch edit token: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open upload file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		fields := map[string]string{
			"action":         "upload",
			"filename":       fileName,
			"text":           text,
			"comment":        comment,
			"token":          token,
			"ignorewarnings": "1",
			"format":         "json",
		}
		for key, value := range fields {
			if err := writer.WriteField(key, value); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := writer.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("failed to parse upload response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("upload rejected: %s: %s", resp.Error.Code, resp.Error.Info)
	}
	if resp.Upload.Result != "Success" {
		return fmt.Errorf("upload did not succeed: %s", resp.Upload.Result)
	}
	return nil
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"format": {"json"},
	})
	if err != nil {
		return "", err
	}
	if resp.Query.Tokens.CSRFToken == "" {
		return "", fmt.Errorf("no csrf token in response")
	}
	return resp.Query.Tokens.CSRFToken, nil
}

func (c *Client) get(ctx context.Context, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiki api request failed: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wiki api returned status %d", httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to parse wiki api response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("wiki api error: %s: %s", resp.Error.Code, resp.Error.Info)
	}
	return &resp, nil
}

// NormalizePageTitle はページタイトルを正規化します。アンダースコアを
// 空白に置き換え、前後の空白を除き、先頭を大文字にします。
func NormalizePageTitle(title string) string {
	title = strings.TrimSpace(strings.ReplaceAll(title, "_", " "))
	if title == "" {
		return title
	}
	return strings.ToUpper(title[:1]) + title[1:]
}
