package djvu

import (
	"context"
	"fmt"
)

// djvused はテキストレイヤーが部分的に壊れている場合に 10 で終了します。
// それ以外の非ゼロ終了は別種の障害です。
const exitPartiallyCorrupt = 10

// validate は結合済みDjVuのテキストレイヤーを検証し、破損ページがあれば
// そのページのテキストレイヤーだけを除去して修復します。ページ自体は
// 残します。このステップは決してジョブを失敗させません。検索できるページが
// 減るだけの文書に劣化して完了します。
func (m *Jp2Maker) validate(ctx context.Context, djvuFile string) {
	m.log.Info("validating text layer", "file", djvuFile)

	_, code, err := m.deps.Runner.RunExit(ctx, m.deps.Tools.Djvused,
		"-u", djvuFile, "-e", "select; output-txt")
	if err != nil {
		m.log.Error("unable to validate document", "file", djvuFile, "error", err)
		return
	}
	if code == 0 {
		m.log.Debug("text layer OK")
		return
	}
	if code != exitPartiallyCorrupt {
		m.log.Error("unable to validate document", "file", djvuFile, "exit", code)
		return
	}

	// 全体の検証が通らなかったので、ページを1つずつ調べて修復する。
	for pageNum := 1; pageNum <= m.pageCount; pageNum++ {
		_, code, err := m.deps.Runner.RunExit(ctx, m.deps.Tools.Djvused,
			"-u", djvuFile, "-e", fmt.Sprintf("select %d; output-txt", pageNum))
		if err != nil {
			m.log.Error("unable to validate page", "page", pageNum, "error", err)
			continue
		}
		if code == 0 {
			continue
		}
		if code != exitPartiallyCorrupt {
			// 破損とは別種のエラー。記録して、手を付けずに次へ。
			m.log.Error("unable to validate page", "page", pageNum, "exit", code)
			continue
		}

		// このページのテキストを除去して修復を試みる。次のページへ進む前に
		// 変更を保存する。
		m.log.Info("fixing page by removing its text layer", "page", pageNum)
		_, code, err = m.deps.Runner.RunExit(ctx, m.deps.Tools.Djvused,
			"-u", djvuFile, "-e", fmt.Sprintf("select %d; remove-txt; save", pageNum))
		if err != nil || code != 0 {
			m.log.Error("unable to fix page", "page", pageNum, "exit", code, "error", err)
			continue
		}
	}
	m.log.Info("validation complete")
}
