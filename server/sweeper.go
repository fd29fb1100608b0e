package server

import (
	"os"
	"path/filepath"
	"time"
)

// sweep 删除超过 ResultTTL 的结果目录，由 cron 定时触发
func (s *Server) sweep() {
	s.sweepBefore(time.Now().Add(-s.cfg.ResultTTL))
}

func (s *Server) sweepBefore(cutoff time.Time) int {
	entries, err := os.ReadDir(s.cfg.OutputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("sweep outputs", "dir", s.cfg.OutputDir, "err", err)
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.cfg.OutputDir, e.Name())); err != nil {
			s.logger.Warn("remove expired result", "id", e.Name(), "err", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("expired results removed", "count", removed)
	}
	return removed
}
