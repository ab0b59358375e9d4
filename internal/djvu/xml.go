package djvu

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// injectTextLayer はOCRテキストレイヤーXMLの各ページレコードを書き換えて、
// 結合済みDjVuへ注入します。書き換え後のXMLは元を上書きせず *_new.xml として
// 保存します。*_new.xml が既に存在する場合、注入も完了済みとみなして全体を
// スキップします（実際の注入が完了する前に落ちていても、です — 既知の制限で
// あり、「完了した可能性のある注入を二度と再実行しない」という意図された
// 挙動です）。
//
// XMLが読めない、または BODY 要素が無い場合はログだけ残して正常終了します。
// OCRの無い言語では少なくともプレーンなDjVuが成果物として残るためです。
func (m *Jp2Maker) injectTextLayer(ctx context.Context, djvuFile string) error {
	matches, _ := filepath.Glob(filepath.Join(m.dir, "*_djvu.xml"))
	if len(matches) == 0 {
		return fmt.Errorf("no '*_djvu.xml' file found in %s", m.dir)
	}
	xmlFile := matches[0]

	newXMLFile := xmlFile + "_new.xml"
	if _, err := os.Stat(newXMLFile); err == nil {
		m.log.Debug("rewritten text-layer file already exists, assuming injected", "path", newXMLFile)
		return nil
	}

	m.log.Info("modifying text-layer file", "xml", xmlFile, "target", djvuFile)
	src, err := os.ReadFile(xmlFile)
	if err != nil {
		return err
	}

	rewritten, err := rewriteTextLayer(src, djvuFile, m.itemID)
	if err != nil {
		// 読めないXMLは致命傷にしない。ステップ5のプレーンな文書を最終
		// 成果物として受け入れる。
		m.log.Info("unable to load text-layer XML, keeping plain document", "error", err)
		return nil
	}

	if err := os.WriteFile(newXMLFile, rewritten, 0o644); err != nil {
		return err
	}

	m.log.Info("merging modified text layer into combined document")
	if _, err := m.deps.Runner.Run(ctx, m.deps.Tools.DjvuXMLParser, newXMLFile); err != nil {
		return err
	}
	return nil
}

// rewriteTextLayer は各 OBJECT 要素の data 属性を結合済みDjVuのURIへ、
// 最初の PARAM（常に PAGE）の value を決定的なページファイル名へ書き換えます。
// トークン単位でコピーするため、テキスト領域などモデル化していない内容も
// そのまま保たれます。BODY 要素が無い場合はエラーを返します。
func rewriteTextLayer(src []byte, djvuFile, itemID string) ([]byte, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(src)))
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity

	var out strings.Builder
	encoder := xml.NewEncoder(&out)

	sawBody := false
	pageNum := 0
	// OBJECT 内で最初に現れた PARAM だけを書き換えるためのフラグ。
	inObject := false
	paramRewritten := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed text-layer XML: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "BODY":
				sawBody = true
			case "OBJECT":
				for i := range t.Attr {
					if t.Attr[i].Name.Local == "data" {
						t.Attr[i].Value = "file://localhost" + djvuFile
					}
				}
				inObject = true
				paramRewritten = false
			case "PARAM":
				if inObject && !paramRewritten {
					for i := range t.Attr {
						if t.Attr[i].Name.Local == "value" {
							t.Attr[i].Value = fmt.Sprintf("%s_p%d.djvu", itemID, pageNum)
						}
					}
					paramRewritten = true
				}
			}
			token = t
		case xml.EndElement:
			if t.Name.Local == "OBJECT" {
				inObject = false
				pageNum++
			}
		}

		if err := encoder.EncodeToken(token); err != nil {
			return nil, err
		}
	}
	if err := encoder.Flush(); err != nil {
		return nil, err
	}
	if !sawBody {
		return nil, fmt.Errorf("no BODY element found")
	}
	return []byte(out.String()), nil
}
