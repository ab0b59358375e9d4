package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	descriptorFilename = "job.json"
	lockFilename       = "lock"
	logFilename        = "log.txt"
)

// ErrLocked は既にロックされているジョブを確保しようとした場合に返されます。
var ErrLocked = errors.New("job is already locked")

// Store はジョブをキュールート直下のディレクトリとして保存します。
type Store struct {
	root string
}

// NewStore は Store を作成します。root はジョブキューのルートディレクトリです。
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root はキュールートの絶対パスを返します。
func (s *Store) Root() string {
	return s.root
}

// Dir はジョブディレクトリのパスを返します。
func (s *Store) Dir(itemID string) string {
	return filepath.Join(s.root, itemID)
}

// DescriptorPath は job.json のパスを返します。
func (s *Store) DescriptorPath(itemID string) string {
	return filepath.Join(s.Dir(itemID), descriptorFilename)
}

// LogPath は log.txt のパスを返します。
func (s *Store) LogPath(itemID string) string {
	return filepath.Join(s.Dir(itemID), logFilename)
}

func (s *Store) lockPath(itemID string) string {
	return filepath.Join(s.Dir(itemID), lockFilename)
}

// Write はジョブ記述子を保存します。記述子には資格情報が含まれるため、
// 内容を書き込む前に空ファイルを作成してパーミッションを 0600 に絞ります。
func (s *Store) Write(job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if job.ItemID == "" {
		return fmt.Errorf("job.ItemID is required")
	}
	if err := os.MkdirAll(s.Dir(job.ItemID), 0o755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	path := s.DescriptorPath(job.ItemID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open descriptor: %w", err)
	}
	defer file.Close()
	// umask の影響を受けないよう、書き込み前に明示的に絞る。
	if err := file.Chmod(0o600); err != nil {
		return fmt.Errorf("failed to restrict descriptor permissions: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

// Load はジョブ記述子を読み込みます。
func (s *Store) Load(itemID string) (*Job, error) {
	data, err := os.ReadFile(s.DescriptorPath(itemID))
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	return &job, nil
}

// Enumerate は記述子ファイルを持つ全ジョブのIDを返します。
// 順序はファイルシステムの列挙順であり、保証されません。
func (s *Store) Enumerate() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", descriptorFilename))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, filepath.Base(filepath.Dir(m)))
	}
	return ids, nil
}

// IsLocked はロックマーカーが存在すれば true を返します。
func (s *Store) IsLocked(itemID string) bool {
	_, err := os.Stat(s.lockPath(itemID))
	return err == nil
}

// Claim はジョブを確保します。ロックマーカーの排他的作成 (O_EXCL) により
// ワンステップの test-and-set になっており、同じジョブを同時に確保できるのは
// 1プロセスだけです。既にロックされていれば ErrLocked を返します。
func (s *Store) Claim(itemID string) error {
	file, err := os.OpenFile(s.lockPath(itemID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLocked
		}
		return fmt.Errorf("failed to create lock marker: %w", err)
	}
	return file.Close()
}

// IsStale は log.txt の最終更新が threshold より古ければ true を返します。
// ログの内容は見ません。実行途中でクラッシュしたジョブを検出するための
// ヒューリスティックで、報告にのみ使われ、自動リトライには使われません。
func (s *Store) IsStale(itemID string, threshold time.Duration) bool {
	info, err := os.Stat(s.LogPath(itemID))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > threshold
}

// DescriptorModTime は job.json の最終更新時刻を返します（Prunerが使用）。
func (s *Store) DescriptorModTime(itemID string) (time.Time, error) {
	info, err := os.Stat(s.DescriptorPath(itemID))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Delete はジョブディレクトリをネストした中間生成物ごと削除します。
func (s *Store) Delete(itemID string) error {
	if itemID == "" {
		return fmt.Errorf("itemID is required")
	}
	return os.RemoveAll(s.Dir(itemID))
}
