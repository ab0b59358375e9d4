package runner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/scanbridge/internal/jobqueue"
)

// Pruner は保持期間を過ぎたジョブディレクトリを削除します。ロックや失敗の
// 状態に関係なく、記述子ファイルの更新時刻だけで判断します。
type Pruner struct {
	store     *jobqueue.Store
	retention time.Duration
	log       *slog.Logger
}

// NewPruner は Pruner を作成します。
func NewPruner(store *jobqueue.Store, retention time.Duration, log *slog.Logger) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{store: store, retention: retention, log: log}
}

// Run は期限切れのジョブを削除し、削除したジョブのIDを返します。
func (p *Pruner) Run() ([]string, error) {
	ids, err := p.store.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate jobs: %w", err)
	}

	var deleted []string
	for _, id := range ids {
		modTime, err := p.store.DescriptorModTime(id)
		if err != nil {
			return deleted, err
		}
		if time.Since(modTime) < p.retention {
			continue
		}
		if err := p.store.Delete(id); err != nil {
			return deleted, err
		}
		p.log.Info("deleted expired job", "item", id)
		deleted = append(deleted, id)
	}
	return deleted, nil
}
