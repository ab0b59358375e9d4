package jobqueue

import (
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Logger はジョブ専用のロガーを作成します。stderr とジョブディレクトリ内の
// log.txt（追記）の両方へ出力します。戻り値のクローズ関数でファイルを閉じます。
func (s *Store) Logger(itemID string) (*slog.Logger, func() error, error) {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	file, err := os.OpenFile(s.LogPath(itemID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	logger := slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
	return logger, file.Close, nil
}
