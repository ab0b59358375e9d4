package archive

import (
	"strings"
)

// FileInfo はアイテム内の1ファイルの情報です。
type FileInfo struct {
	Format string `json:"format"`
	Size   string `json:"size"`
}

// ItemDetails はアイテム詳細APIのレスポンスです。ファイル一覧のキーは
// アイテムからの相対パス（先頭スラッシュ付き）です。
type ItemDetails struct {
	Metadata map[string][]string `json:"metadata"`
	Files    map[string]FileInfo `json:"files"`
}

// Identifier は正規化されたアイテムIDを返します。
func (d *ItemDetails) Identifier() string {
	return d.metaValue("identifier")
}

// Language はアイテムの言語を返します。
func (d *ItemDetails) Language() string {
	return d.metaValue("language")
}

func (d *ItemDetails) metaValue(key string) string {
	if values, ok := d.Metadata[key]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// FileWithSuffix は一覧からサフィックスが一致する最初のファイルの相対パスを
// 返します。見つからなければ空文字列を返します。
func (d *ItemDetails) FileWithSuffix(suffixes ...string) string {
	for path := range d.Files {
		for _, suffix := range suffixes {
			if strings.HasSuffix(path, suffix) {
				return path
			}
		}
	}
	return ""
}

// languageCategories は正規化済み言語コードから表示用カテゴリ名への対応表です。
// プロセス起動時に一度だけ構築される読み取り専用のテーブルで、実行時に変更
// してはいけません。
var languageCategories = map[string]string{
	"ar": "Arabic",
	"bn": "Bengali",
	"cs": "Czech",
	"da": "Danish",
	"de": "German",
	"el": "Greek",
	"en": "English",
	"es": "Spanish",
	"fa": "Persian",
	"fi": "Finnish",
	"fr": "French",
	"he": "Hebrew",
	"hi": "Hindi",
	"hu": "Hungarian",
	"id": "Indonesian",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"la": "Latin",
	"nl": "Dutch",
	"no": "Norwegian",
	"pl": "Polish",
	"pt": "Portuguese",
	"ro": "Romanian",
	"ru": "Russian",
	"sv": "Swedish",
	"ta": "Tamil",
	"tr": "Turkish",
	"uk": "Ukrainian",
	"vi": "Vietnamese",
	"zh": "Chinese",
}

// NormalizeLanguageCode は言語表記を2文字コードへ正規化します。
// 3文字コードは先頭2文字に切り詰め、言語名はカテゴリ表から逆引きします。
// どれにも当てはまらなければ入力をそのまま返します。
func NormalizeLanguageCode(language string) string {
	switch len(language) {
	case 2:
		return language
	case 3:
		return language[:2]
	default:
		for code, name := range languageCategories {
			if strings.EqualFold(language, name) {
				return code
			}
		}
		return language
	}
}

// LanguageCategory は正規化済みコードに対応するカテゴリ名を返します。
// 対応がなければ空文字列を返します。
func LanguageCategory(code string) string {
	return languageCategories[code]
}
