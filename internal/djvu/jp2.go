package djvu

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/scanbridge/internal/jobqueue"
)

const (
	metadataFilename = "metadata.json"
	buildDirname     = "build"
)

// Jp2Maker はページ画像アーカイブ (_jp2.zip) とOCRテキストレイヤー
// (_djvu.xml) から複数ページのDjVuを組み立てます。
type Jp2Maker struct {
	itemID string
	dir    string
	deps   Deps
	log    *slog.Logger

	// convertPages で設定されるページ数。validate で使用します。
	pageCount int
}

func newJp2Maker(job *jobqueue.Job, jobDir string, deps Deps, log *slog.Logger) Maker {
	return &Jp2Maker{itemID: job.ItemID, dir: jobDir, deps: deps, log: log}
}

// CreateLocalDjvu はダウンロード→展開→ページ毎変換→結合→テキストレイヤー
// 注入→検証の順に処理します。各段階は成果物が既にあればスキップされるため、
// 再実行は冪等です。
func (m *Jp2Maker) CreateLocalDjvu(ctx context.Context) (string, error) {
	if err := m.downloadFiles(ctx); err != nil {
		return "", err
	}
	jp2Dir, err := m.unzipArchive()
	if err != nil {
		return "", err
	}
	djvuFile, err := m.convertPages(ctx, jp2Dir)
	if err != nil {
		return "", err
	}
	if err := m.injectTextLayer(ctx, djvuFile); err != nil {
		return "", err
	}
	m.validate(ctx, djvuFile)

	info, err := os.Stat(djvuFile)
	if err != nil {
		return "", fmt.Errorf("combined document missing after assembly: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("combined document %s is empty", djvuFile)
	}
	return djvuFile, nil
}

// downloadFiles はメタデータとページ画像アーカイブ・テキストレイヤーを
// ジョブディレクトリへダウンロードします。中断されていた場合に備えて、
// ファイルごとに存在チェックしてからダウンロードします。
func (m *Jp2Maker) downloadFiles(ctx context.Context) error {
	metadataFile := filepath.Join(m.dir, metadataFilename)
	if _, err := os.Stat(metadataFile); os.IsNotExist(err) {
		m.log.Info("saving item metadata", "path", metadataFile)
		details, err := m.deps.Archive.FileDetails(ctx, m.itemID)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(details)
		if err != nil {
			return err
		}
		if err := os.WriteFile(metadataFile, payload, 0o644); err != nil {
			return fmt.Errorf("failed to cache metadata: %w", err)
		}
	}

	data, err := os.ReadFile(metadataFile)
	if err != nil {
		return err
	}
	var details struct {
		Files map[string]json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(data, &details); err != nil {
		return fmt.Errorf("failed to parse cached metadata: %w", err)
	}

	for remote := range details.Files {
		if !strings.HasSuffix(remote, "_jp2.zip") && !strings.HasSuffix(remote, "_djvu.xml") {
			continue
		}
		local := filepath.Join(m.dir, strings.TrimPrefix(remote, "/"))
		if _, err := os.Stat(local); err == nil {
			continue
		}
		m.log.Info("downloading", "file", m.itemID+remote)
		if err := m.deps.Archive.DownloadFile(ctx, m.itemID+remote, local); err != nil {
			return err
		}
		if strings.HasSuffix(remote, ".zip") {
			kind, err := mimetype.DetectFile(local)
			if err != nil {
				return err
			}
			if !kind.Is("application/zip") {
				return fmt.Errorf("downloaded %s is not a zip archive (detected %s)", local, kind.String())
			}
		}
	}
	return nil
}

// unzipArchive は _jp2.zip をジョブディレクトリ内の同名ディレクトリへ展開し、
// そのパスを返します。既に展開済みでファイル数がアーカイブの期待メンバー数と
// 一致する場合はスキップします。一致しない場合は上書きで再展開します
// （追記ではなくマージなので、既存ディレクトリがあっても失敗しません）。
func (m *Jp2Maker) unzipArchive() (string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*_jp2.zip"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("page-image archive (_jp2.zip) not found in %s", m.dir)
	}
	zipFile := matches[0]

	reader, err := zip.OpenReader(zipFile)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", zipFile, err)
	}
	defer reader.Close()

	members := make([]*zip.File, 0, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members = append(members, f)
	}

	outDir := strings.TrimSuffix(zipFile, filepath.Ext(zipFile))
	if entries, err := os.ReadDir(outDir); err == nil {
		if len(entries) == len(members) {
			// 展開済みで完全。
			return outDir, nil
		}
		m.log.Info("unpack directory incomplete, re-extracting",
			"have", len(entries), "want", len(members))
	}

	m.log.Info("unzipping", "file", zipFile)
	for _, member := range members {
		target, err := safeJoin(m.dir, member.Name)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}
		if err := extractMember(member, target); err != nil {
			return "", err
		}
	}
	m.log.Debug("zip file extracted", "dir", outDir)
	return outDir, nil
}

func extractMember(member *zip.File, target string) error {
	src, err := member.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// safeJoin は zip メンバー名がジョブディレクトリの外を指していないことを
// 確認しつつ結合します。
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive member %q escapes the job directory", name)
	}
	return target, nil
}

// convertPages は各JP2ページ画像を縮小JPEG経由で単一ページDjVuへ変換し、
// 全ページをページ番号の昇順で1つのDjVuに結合します。中間ファイルは
// <item>_p<番号> という決定的な名前なので、再実行時は生成済みのページを
// スキップできます。
func (m *Jp2Maker) convertPages(ctx context.Context, jp2Dir string) (string, error) {
	entries, err := os.ReadDir(jp2Dir)
	if err != nil {
		return "", err
	}
	jp2Files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".jp2") {
			jp2Files = append(jp2Files, entry.Name())
		}
	}
	if len(jp2Files) == 0 {
		return "", fmt.Errorf("no JP2 file found in %s", jp2Dir)
	}
	sort.Strings(jp2Files)

	buildDir := filepath.Join(m.dir, buildDirname)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return "", err
	}

	m.log.Info("converting individual pages", "count", len(jp2Files))
	for index, name := range jp2Files {
		jp2File := filepath.Join(jp2Dir, name)
		m.log.Debug("converting", "file", jp2File)

		// このページの縮小JPEGを作る。長辺が1500pxに収まるように縮小する。
		jpgFile := m.pagePath(index, "jpg")
		if _, err := os.Stat(jpgFile); os.IsNotExist(err) {
			if _, err := m.deps.Runner.Run(ctx, m.deps.Tools.GraphicsMagick,
				"convert", "-resize", "1500x1500", jp2File, jpgFile); err != nil {
				return "", err
			}
		}

		// このページの単一ページDjVuを作る。ファイル名にはJP2名ではなく
		// アイテムIDを使う。後でテキストレイヤーXMLを書き換えやすくするため。
		djvuFile := m.pagePath(index, "djvu")
		if _, err := os.Stat(djvuFile); os.IsNotExist(err) {
			if _, err := m.deps.Runner.Run(ctx, m.deps.Tools.C44, jpgFile, djvuFile); err != nil {
				return "", err
			}
		}
	}
	m.pageCount = len(jp2Files)

	return m.mergePages(ctx, buildDir)
}

// mergePages は build ディレクトリの単一ページDjVuをページ番号の昇順で
// 1つに結合します。辞書順ではなく番号順です（_p10 が _p2 の後に来るように）。
func (m *Jp2Maker) mergePages(ctx context.Context, buildDir string) (string, error) {
	combined := filepath.Join(m.dir, m.itemID+".djvu")
	if _, err := os.Stat(combined); err == nil {
		return combined, nil
	}

	pages, err := filepath.Glob(filepath.Join(buildDir, m.itemID+"_p*.djvu"))
	if err != nil || len(pages) == 0 {
		return "", fmt.Errorf("no per-page documents found in %s", buildDir)
	}
	sortByPageIndex(pages)

	m.log.Info("merging pages", "output", combined, "pages", len(pages))
	args := append([]string{"-c", combined}, pages...)
	if _, err := m.deps.Runner.Run(ctx, m.deps.Tools.Djvm, args...); err != nil {
		return "", err
	}
	return combined, nil
}

func (m *Jp2Maker) pagePath(index int, ext string) string {
	return filepath.Join(m.dir, buildDirname, fmt.Sprintf("%s_p%d.%s", m.itemID, index, ext))
}

var pageIndexPattern = regexp.MustCompile(`_p(\d+)\.djvu$`)

// sortByPageIndex は <item>_p<N>.djvu 形式のパスを N の昇順に並べ替えます。
func sortByPageIndex(paths []string) {
	index := func(path string) int {
		match := pageIndexPattern.FindStringSubmatch(path)
		if match == nil {
			return -1
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return -1
		}
		return n
	}
	sort.Slice(paths, func(i, j int) bool {
		return index(paths[i]) < index(paths[j])
	})
}
