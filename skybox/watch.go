package skybox

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听模板目录，文件被改写、删除或重命名时清掉对应缓存，清单变化时重新加载
// 阻塞直到 ctx 结束。
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(r.dir); err != nil {
		return err
	}
	r.logger.Info("watching sky templates", "dir", r.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			r.handle(event)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("template watcher error", "err", err)
		}
	}
}

func (r *Registry) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if name == ManifestFile {
		if err := r.reload(); err != nil {
			r.logger.Error("reload template manifest", "err", err)
			return
		}
		r.logger.Info("template manifest reloaded", "op", event.Op.String())
		return
	}

	for _, t := range r.List() {
		if t.File == name {
			r.Invalidate(t.ID)
			r.logger.Debug("template cache invalidated", "id", t.ID, "op", event.Op.String())
		}
	}
}
