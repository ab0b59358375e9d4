package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/scanbridge/internal/archive"
	"github.com/yourusername/scanbridge/internal/djvu"
	"github.com/yourusername/scanbridge/internal/jobqueue"
)

// stubFetcher は常に失敗するアーカイブです。全成果物が揃ったジョブの再開では
// ネットワークに触れないことの検証を兼ねます。
type stubFetcher struct{}

func (stubFetcher) FileDetails(ctx context.Context, itemID string) (*archive.ItemDetails, error) {
	return nil, fmt.Errorf("archive must not be contacted")
}

func (stubFetcher) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return fmt.Errorf("archive must not be contacted")
}

type stubRunner struct {
	runs []string
}

func (s *stubRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	s.runs = append(s.runs, name)
	return "", nil
}

func (s *stubRunner) RunExit(ctx context.Context, name string, args ...string) (string, int, error) {
	return "", 0, nil
}

type stubClient struct {
	canUpload bool
	canErr    error
	uploads   []string
	uploadErr error
}

func (s *stubClient) CanUpload(ctx context.Context) (bool, error) {
	return s.canUpload, s.canErr
}

func (s *stubClient) Upload(ctx context.Context, fileName, path, text, comment string) error {
	s.uploads = append(s.uploads, fileName)
	return s.uploadErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps() djvu.Deps {
	return djvu.Deps{
		Archive: stubFetcher{},
		Runner:  &stubRunner{},
		Tools: djvu.Tools{
			GraphicsMagick: "gm",
			C44:            "c44",
			Djvm:           "djvm",
			DjvuXMLParser:  "djvuxmlparser",
			Djvused:        "djvused",
		},
	}
}

// seedAssembledJob は全段階の成果物が揃った（アップロード直前で落ちた）
// ジョブディレクトリを作ります。
func seedAssembledJob(t *testing.T, store *jobqueue.Store, itemID string) {
	t.Helper()
	job := &jobqueue.Job{
		ItemID:       itemID,
		WikiName:     "Example book",
		FullWikiName: "Example book.djvu",
		Format:       jobqueue.FormatDjvu,
		FileSource:   jobqueue.SourceJp2,
		Description:  "test",
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.Write(job); err != nil {
		t.Fatalf("failed to write job: %v", err)
	}
	dir := store.Dir(itemID)

	metadata := fmt.Sprintf(`{"files":{"/%s_jp2.zip":{},"/%s_djvu.xml":{}}}`, itemID, itemID)
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(metadata), 0o644); err != nil {
		t.Fatalf("failed to write metadata: %v", err)
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	member, err := w.Create(itemID + "_jp2/" + itemID + "_0001.jp2")
	if err != nil {
		t.Fatalf("failed to build zip: %v", err)
	}
	if _, err := member.Write([]byte("JP2DATA")); err != nil {
		t.Fatalf("failed to build zip: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to build zip: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, itemID+"_jp2.zip"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write zip: %v", err)
	}

	files := map[string][]byte{
		filepath.Join(itemID+"_jp2", itemID+"_0001.jp2"):     []byte("JP2DATA"),
		itemID + "_djvu.xml":                                 []byte("<DjVuXML><BODY></BODY></DjVuXML>"),
		itemID + "_djvu.xml_new.xml":                         []byte("<DjVuXML><BODY></BODY></DjVuXML>"),
		filepath.Join("build", itemID+"_p0.jpg"):             []byte("JPGDATA"),
		filepath.Join("build", itemID+"_p0.djvu"):            []byte("DJVUPAGE"),
		itemID + ".djvu":                                     []byte("DJVUDOC"),
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func TestRunProcessesJobAndDeletesDirectory(t *testing.T) {
	store := jobqueue.NewStore(t.TempDir())
	seedAssembledJob(t, store, "book1")

	client := &stubClient{canUpload: true}
	r := New(store, testDeps(), func(jobqueue.AccessToken) UploadClient { return client }, 0, quietLogger())
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(client.uploads) != 1 || client.uploads[0] != "Example book.djvu" {
		t.Fatalf("unexpected uploads: %#v", client.uploads)
	}
	if _, err := os.Stat(store.Dir("book1")); !os.IsNotExist(err) {
		t.Fatalf("job directory should be deleted after success, stat err=%v", err)
	}
}

func TestRunSkipsLockedJobs(t *testing.T) {
	store := jobqueue.NewStore(t.TempDir())
	seedAssembledJob(t, store, "book1")
	if err := store.Claim("book1"); err != nil {
		t.Fatalf("failed to pre-lock job: %v", err)
	}

	client := &stubClient{canUpload: true}
	r := New(store, testDeps(), func(jobqueue.AccessToken) UploadClient { return client }, 0, quietLogger())
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(client.uploads) != 0 {
		t.Fatalf("locked job must not be processed: %#v", client.uploads)
	}
	if _, err := os.Stat(store.Dir("book1")); err != nil {
		t.Fatalf("locked job directory must remain: %v", err)
	}
}

func TestRunAbortsWhenCredentialCannotUpload(t *testing.T) {
	store := jobqueue.NewStore(t.TempDir())
	seedAssembledJob(t, store, "book1")

	client := &stubClient{canUpload: false}
	r := New(store, testDeps(), func(jobqueue.AccessToken) UploadClient { return client }, 0, quietLogger())
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error when credential lacks upload right")
	}

	// 失敗したジョブはロックごと残り、自動ではリトライされない。
	if !store.IsLocked("book1") {
		t.Fatal("failed job should remain locked")
	}
	if len(client.uploads) != 0 {
		t.Fatalf("nothing should be uploaded: %#v", client.uploads)
	}
}

func TestRunAbortsWholeRunOnJobFailure(t *testing.T) {
	store := jobqueue.NewStore(t.TempDir())
	// 成果物を何も持たないジョブ。アーカイブが拒否するので組み立てに失敗する。
	job := &jobqueue.Job{
		ItemID:       "broken",
		WikiName:     "Broken",
		FullWikiName: "Broken.djvu",
		Format:       jobqueue.FormatDjvu,
		FileSource:   jobqueue.SourceJp2,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.Write(job); err != nil {
		t.Fatalf("failed to write job: %v", err)
	}

	client := &stubClient{canUpload: true}
	r := New(store, testDeps(), func(jobqueue.AccessToken) UploadClient { return client }, 0, quietLogger())
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error from failing job")
	}

	if !store.IsLocked("broken") {
		t.Fatal("failed job should remain locked for inspection")
	}
	if _, err := os.Stat(store.LogPath("broken")); err != nil {
		t.Fatalf("failed job should leave a log: %v", err)
	}
}
