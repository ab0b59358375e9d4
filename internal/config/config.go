// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ジョブキュー設定
	QueueDir         string // ジョブキューのルートディレクトリ（全コンポーネント共通）
	RetentionDays    int    // ジョブディレクトリの保持日数（Prunerが使用）
	StalenessMinutes int    // log.txt がこの分数より古ければジョブを停滞扱いにする
	PollDelaySeconds int    // リモート変換サービスのポーリング間隔（秒）

	// 外部サービス設定
	ArchiveBaseURL string // デジタルアーカイブAPIのベースURL
	ConvertBaseURL string // PDF→DjVuリモート変換サービスのURL
	WikiBaseURL    string // アップロード先WikiのベースURL

	// OAuth設定（Wikiへのアップロードに使用）
	OAuthConsumerKey    string // コンシューマーキー
	OAuthConsumerSecret string // コンシューマーシークレット

	// 外部ツール設定
	GraphicsMagickPath string // GraphicsMagick (gm) 実行ファイルのパス
	C44Path            string // c44 (単一ページDjVuエンコーダー) のパス
	DjvmPath           string // djvm (複数ページDjVu結合) のパス
	DjvuXMLParserPath  string // djvuxmlparser (テキストレイヤー注入) のパス
	DjvusedPath        string // djvused (検証・修復) のパス
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// アプリケーション設定
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ジョブキュー設定
		QueueDir:         getEnv("QUEUE_DIR", "jobqueue"),
		RetentionDays:    getEnvAsInt("RETENTION_DAYS", 7),
		StalenessMinutes: getEnvAsInt("STALENESS_MINUTES", 60),
		PollDelaySeconds: getEnvAsInt("POLL_DELAY_SECONDS", 5),

		// 外部サービス設定
		ArchiveBaseURL: getEnv("ARCHIVE_BASE_URL", "https://archive.org"),
		ConvertBaseURL: getEnv("CONVERT_BASE_URL", ""),
		WikiBaseURL:    getEnv("WIKI_BASE_URL", "https://commons.wikimedia.org"),

		// OAuth設定
		OAuthConsumerKey:    getEnv("OAUTH_CONSUMER_KEY", ""),
		OAuthConsumerSecret: getEnv("OAUTH_CONSUMER_SECRET", ""),

		// 外部ツール設定
		GraphicsMagickPath: getEnv("GM_PATH", "gm"),
		C44Path:            getEnv("C44_PATH", "c44"),
		DjvmPath:           getEnv("DJVM_PATH", "djvm"),
		DjvuXMLParserPath:  getEnv("DJVUXMLPARSER_PATH", "djvuxmlparser"),
		DjvusedPath:        getEnv("DJVUSED_PATH", "djvused"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Staleness は停滞判定のしきい値を time.Duration で返します。
// 0 以下の場合は停滞検出を無効にします。
func (c *Config) Staleness() time.Duration {
	if c.StalenessMinutes <= 0 {
		return 0
	}
	return time.Duration(c.StalenessMinutes) * time.Minute
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.QueueDir == "" {
		return fmt.Errorf("QUEUE_DIR is required")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive")
	}

	// ローカル開発では認証設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.OAuthConsumerKey == "" || c.OAuthConsumerSecret == "" {
			return fmt.Errorf("OAUTH_CONSUMER_KEY and OAUTH_CONSUMER_SECRET are required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
