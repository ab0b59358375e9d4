// Package jobqueue はファイルシステム上のジョブキューを提供します。
// 1ジョブ = 1ディレクトリで、記述子 (job.json)、ロックマーカー (lock)、
// ログ (log.txt) と変換の中間生成物をすべてその中に保持します。
package jobqueue

import "time"

// Format は生成する最終ファイルのコンテナ形式を表します。
type Format string

const (
	FormatDjvu Format = "djvu"
	FormatPDF  Format = "pdf"
)

// FileSource は変換元の表現形式を表します。
type FileSource string

const (
	// SourceJp2 はページ画像アーカイブ（1ページ1画像のzip + OCRテキストレイヤー）です。
	SourceJp2 FileSource = "jp2"
	// SourcePDF はリモート変換サービス経由で変換するPDFです。
	SourcePDF FileSource = "pdf"
	// SourceDjvu は変換不要のネイティブファイルです（キューには入りません）。
	SourceDjvu FileSource = "djvu"
)

// AccessToken はユーザーに代わってWikiへアップロードするための資格情報です。
type AccessToken struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// Job は1件の取り込みジョブの記述子です。job.json として永続化されます。
// 資格情報を含むため、記述子ファイルは所有者のみ読み書き可能 (0600) で保存します。
type Job struct {
	ItemID          string      `json:"itemId"`
	WikiName        string      `json:"wikiName"`
	FullWikiName    string      `json:"fullWikiName"`
	Format          Format      `json:"format"`
	FileSource      FileSource  `json:"fileSource"`
	Description     string      `json:"description"`
	RemoveFirstPage bool        `json:"removeFirstPage"`
	UserAccessToken AccessToken `json:"userAccessToken"`
	CreatedAt       time.Time   `json:"createdAt"`
}
