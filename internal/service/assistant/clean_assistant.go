package assistant

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"secretaria/internal/logging"
)

const (
	DefaultOrphanFileTTL             = 24 * time.Hour
	DefaultOrphanFileCleanupInterval = time.Hour
)

// StartOrphanFileCleaner removes uploads that were never attached to a
// message once they are older than ttl.
func (s *Service) StartOrphanFileCleaner(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		ttl = DefaultOrphanFileTTL
	}
	if interval <= 0 {
		interval = DefaultOrphanFileCleanupInterval
	}
	go s.cleanupLoop(ctx, ttl, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.cleanupOrphanFiles(ctx, ttl); err != nil {
				logging.Logger().Error("cleanup orphan files", "error", err)
			} else if n > 0 {
				logging.Logger().Info("removed orphan files", "count", n)
			}
		}
	}
}

func (s *Service) cleanupOrphanFiles(ctx context.Context, ttl time.Duration) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stored_path FROM files WHERE message_id IS NULL AND created_at <= ?`,
		s.now().Add(-ttl),
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type fileRow struct {
		id   int64
		path string
	}
	var files []fileRow
	for rows.Next() {
		var fr fileRow
		if err := rows.Scan(&fr.id, &fr.path); err != nil {
			return 0, err
		}
		files = append(files, fr)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	rows.Close()

	removed := 0
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			logging.Logger().Warn("remove orphan file failed", "path", f.path, "error", err)
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, f.id); err != nil {
			logging.Logger().Warn("delete orphan file record failed", "id", f.id, "error", err)
			continue
		}
		removed++
		// prune empty directories
		_ = os.Remove(filepath.Dir(f.path))
	}
	return removed, nil
}
