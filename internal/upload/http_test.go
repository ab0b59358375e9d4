package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/scanbridge/internal/archive"
	"github.com/yourusername/scanbridge/internal/djvu"
	"github.com/yourusername/scanbridge/internal/jobqueue"
)

type stubArchive struct {
	details *archive.ItemDetails
	err     error
	files   map[string][]byte // リモートパス → 内容
}

func (s *stubArchive) FileDetails(ctx context.Context, itemID string) (*archive.ItemDetails, error) {
	return s.details, s.err
}

func (s *stubArchive) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	content, ok := s.files[remotePath]
	if !ok {
		return fmt.Errorf("no remote file %s", remotePath)
	}
	return os.WriteFile(localPath, content, 0o644)
}

type stubWiki struct {
	exists  map[string]bool
	uploads []string
}

func (s *stubWiki) CanUpload(ctx context.Context) (bool, error) { return true, nil }

func (s *stubWiki) PageExists(ctx context.Context, title string) (bool, error) {
	return s.exists[title], nil
}

func (s *stubWiki) Upload(ctx context.Context, fileName, path, text, comment string) error {
	s.uploads = append(s.uploads, fileName)
	if s.exists == nil {
		s.exists = map[string]bool{}
	}
	s.exists["File:"+fileName] = true
	return nil
}

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return "", nil
}

func (noopRunner) RunExit(ctx context.Context, name string, args ...string) (string, int, error) {
	return "", 0, nil
}

func newTestService(t *testing.T, arch *stubArchive, wikiStub *stubWiki) *Service {
	t.Helper()
	return &Service{
		Store:     jobqueue.NewStore(t.TempDir()),
		Archive:   arch,
		NewWiki:   func(jobqueue.AccessToken) WikiClient { return wikiStub },
		Runner:    noopRunner{},
		Tools:     djvu.Tools{Djvm: "djvm"},
		Staleness: time.Hour,
	}
}

func bookDetails() *archive.ItemDetails {
	return &archive.ItemDetails{
		Metadata: map[string][]string{
			"identifier": {"book1"},
			"language":   {"eng"},
		},
		Files: map[string]archive.FileInfo{
			"/book1_jp2.zip":  {Format: "Single Page Processed JP2 ZIP"},
			"/book1_djvu.xml": {Format: "Djvu XML"},
			"/book1.djvu":     {Format: "DjVu"},
		},
	}
}

func postJobs(t *testing.T, svc *Service, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/api/jobs", SubmitHandler(svc))
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitQueuesConversionJob(t *testing.T) {
	wikiStub := &stubWiki{}
	svc := newTestService(t, &stubArchive{details: bookDetails()}, wikiStub)

	rec := postJobs(t, svc, map[string]any{
		"itemId":      "Book1",
		"wikiName":    "my_book.djvu",
		"description": "a scanned book",
		"accessToken": map[string]string{"key": "k", "secret": "s"},
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["queued"] != true {
		t.Fatalf("expected queued response: %#v", payload)
	}
	if payload["languageCategory"] != "English" {
		t.Fatalf("languageCategory = %v", payload["languageCategory"])
	}

	// 正規化済みIDで記述子が保存されていること。
	job, err := svc.Store.Load("book1")
	if err != nil {
		t.Fatalf("descriptor not written: %v", err)
	}
	if job.WikiName != "My book" || job.FullWikiName != "My book.djvu" {
		t.Fatalf("title not normalized: %#v", job)
	}
	if job.UserAccessToken.Key != "k" {
		t.Fatalf("access token not persisted: %#v", job.UserAccessToken)
	}
	info, err := os.Stat(svc.Store.DescriptorPath("book1"))
	if err != nil {
		t.Fatalf("descriptor missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("descriptor permissions = %o, want 600", perm)
	}
	if len(wikiStub.uploads) != 0 {
		t.Fatalf("queued job must not upload immediately: %#v", wikiStub.uploads)
	}
}

func TestSubmitRejectsExistingFile(t *testing.T) {
	wikiStub := &stubWiki{exists: map[string]bool{"File:My book.djvu": true}}
	svc := newTestService(t, &stubArchive{details: bookDetails()}, wikiStub)

	rec := postJobs(t, svc, map[string]any{
		"itemId":      "book1",
		"wikiName":    "my_book",
		"description": "desc",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["code"] != "ALREADY_EXISTS" {
		t.Fatalf("code = %q", payload["code"])
	}
}

func TestSubmitUnknownItem(t *testing.T) {
	svc := newTestService(t, &stubArchive{err: fmt.Errorf("no such item")}, &stubWiki{})
	rec := postJobs(t, svc, map[string]any{
		"itemId":      "missing",
		"wikiName":    "whatever",
		"description": "desc",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSubmitRejectsIncompleteRequest(t *testing.T) {
	svc := newTestService(t, &stubArchive{details: bookDetails()}, &stubWiki{})
	rec := postJobs(t, svc, map[string]any{"itemId": "book1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitUploadsNativeFileDirectly(t *testing.T) {
	wikiStub := &stubWiki{}
	arch := &stubArchive{
		details: bookDetails(),
		files:   map[string][]byte{"book1/book1.djvu": []byte("AT&TFORMDJVM")},
	}
	svc := newTestService(t, arch, wikiStub)

	rec := postJobs(t, svc, map[string]any{
		"itemId":      "book1",
		"wikiName":    "my_book",
		"description": "desc",
		"fileSource":  "djvu",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(wikiStub.uploads) != 1 || wikiStub.uploads[0] != "My book.djvu" {
		t.Fatalf("unexpected uploads: %#v", wikiStub.uploads)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["queued"] != false {
		t.Fatalf("direct upload must not be queued: %#v", payload)
	}
	// 作業ディレクトリは後始末される。
	if _, err := os.Stat(svc.Store.Dir("book1")); !os.IsNotExist(err) {
		t.Fatalf("job directory should be cleaned up, stat err=%v", err)
	}
}

func TestListHandlerReportsJobStates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, &stubArchive{}, &stubWiki{})
	for _, id := range []string{"waiting-item", "locked-item"} {
		job := &jobqueue.Job{ItemID: id, WikiName: id, FullWikiName: id + ".djvu",
			Format: jobqueue.FormatDjvu, FileSource: jobqueue.SourceJp2, CreatedAt: time.Now().UTC()}
		if err := svc.Store.Write(job); err != nil {
			t.Fatalf("failed to write job: %v", err)
		}
	}
	if err := svc.Store.Claim("locked-item"); err != nil {
		t.Fatalf("failed to lock job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	router := gin.New()
	router.GET("/api/jobs", ListHandler(svc))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Jobs []struct {
			ItemID string `json:"itemId"`
			Locked bool   `json:"locked"`
			Stale  bool   `json:"stale"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(payload.Jobs) != 2 {
		t.Fatalf("unexpected job count: %#v", payload.Jobs)
	}
	states := map[string]bool{}
	for _, j := range payload.Jobs {
		states[j.ItemID] = j.Locked
	}
	if states["waiting-item"] || !states["locked-item"] {
		t.Fatalf("unexpected lock states: %#v", states)
	}
}

func TestLogviewFallsBackWithoutLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, &stubArchive{}, &stubWiki{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/book1/log", nil)
	rec := httptest.NewRecorder()
	router := gin.New()
	router.GET("/api/jobs/:id/log", LogviewHandler(svc.Store))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "No log available." {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestLogviewReturnsJobLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, &stubArchive{}, &stubWiki{})
	job := &jobqueue.Job{ItemID: "book1", WikiName: "b", FullWikiName: "b.djvu",
		Format: jobqueue.FormatDjvu, FileSource: jobqueue.SourceJp2, CreatedAt: time.Now().UTC()}
	if err := svc.Store.Write(job); err != nil {
		t.Fatalf("failed to write job: %v", err)
	}
	if err := os.WriteFile(svc.Store.LogPath("book1"), []byte("level=INFO msg=started\n"), 0o644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/book1/log", nil)
	rec := httptest.NewRecorder()
	router := gin.New()
	router.GET("/api/jobs/:id/log", LogviewHandler(svc.Store))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "level=INFO msg=started\n" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestDownloadHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, &stubArchive{}, &stubWiki{})
	router := gin.New()
	router.GET("/api/jobs/:id/djvu", DownloadHandler(svc.Store))

	// 成果物がまだ無い。
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/book1/djvu", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	// 成果物ができた。
	if err := os.MkdirAll(svc.Store.Dir("book1"), 0o755); err != nil {
		t.Fatalf("failed to create job dir: %v", err)
	}
	content := []byte("AT&TFORMDJVM")
	if err := os.WriteFile(svc.Store.Dir("book1")+"/book1.djvu", content, 0o644); err != nil {
		t.Fatalf("failed to write document: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/jobs/book1/djvu", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/vnd.djvu" {
		t.Fatalf("content-type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatalf("unexpected body: %q", rec.Body.Bytes())
	}
}
