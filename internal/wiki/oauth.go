package wiki

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/scanbridge/internal/jobqueue"
)

// Consumer はツール側のOAuthコンシューマー資格情報です。
type Consumer struct {
	Key    string
	Secret string
}

// NewCredentialedClient は保存されたユーザーのアクセストークンから、
// 署名付きリクエストを送る HTTP クライアントを構築します。ジョブ記述子に
// 入っている資格情報を利用可能なクライアントへ引き換える唯一の入口です。
func NewCredentialedClient(consumer Consumer, token jobqueue.AccessToken) *http.Client {
	return &http.Client{
		Transport: &oauthTransport{
			consumer: consumer,
			token:    token,
			base:     http.DefaultTransport,
		},
	}
}

// oauthTransport は各リクエストに OAuth 1.0a の Authorization ヘッダーを付与します。
type oauthTransport struct {
	consumer Consumer
	token    jobqueue.AccessToken
	base     http.RoundTripper
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", t.authorizationHeader(req))
	return t.base.RoundTrip(cloned)
}

func (t *oauthTransport) authorizationHeader(req *http.Request) string {
	params := map[string]string{
		"oauth_consumer_key":     t.consumer.Key,
		"oauth_token":            t.token.Key,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_nonce":            uuid.NewString(),
		"oauth_version":          "1.0",
	}
	params["oauth_signature"] = t.sign(req, params)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, url.QueryEscape(params[k])))
	}
	return "OAuth " + strings.Join(pairs, ", ")
}

func (t *oauthTransport) sign(req *http.Request, oauthParams map[string]string) string {
	// 署名ベース文字列はクエリとOAuthパラメータをキー順に連結して作る。
	values := url.Values{}
	for k, v := range oauthParams {
		values.Set(k, v)
	}
	for k, vs := range req.URL.Query() {
		for _, v := range vs {
			values.Add(k, v)
		}
	}

	baseURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	base := strings.Join([]string{
		req.Method,
		url.QueryEscape(baseURL),
		url.QueryEscape(values.Encode()),
	}, "&")

	key := url.QueryEscape(t.consumer.Secret) + "&" + url.QueryEscape(t.token.Secret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
