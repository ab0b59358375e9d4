package djvu

import (
	"context"
	"fmt"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// RemoveFirstPage は文書の1ページ目を削除します。スキャン本によくある
// アーカイブ由来の表紙ページを取り除くためのものです。DjVuは djvm で、
// PDFは pdfcpu でその場で書き換えます。
func RemoveFirstPage(ctx context.Context, runner CommandRunner, tools Tools, path string, format string) error {
	switch format {
	case "pdf":
		if err := pdfapi.RemovePagesFile(path, "", []string{"1"}, nil); err != nil {
			return fmt.Errorf("failed to remove first page of %s: %w", path, err)
		}
		return nil
	default:
		_, err := runner.Run(ctx, tools.Djvm, "-d", path, "1")
		return err
	}
}

// ValidatePDF はダウンロードしたPDFが読み取れる文書であることを確認します。
// ネイティブファイルをそのままアップロードする経路で使います。
func ValidatePDF(path string) error {
	if err := pdfapi.ValidateFile(path, nil); err != nil {
		return fmt.Errorf("downloaded PDF failed validation: %w", err)
	}
	return nil
}
