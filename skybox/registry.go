// Package skybox 管理可选的天空模板
package skybox

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/chaos-io/skyreplace/sky"
	"github.com/chaos-io/skyreplace/util"
)

// ManifestFile 模板目录下可选的清单文件，存在时替换内置清单
const ManifestFile = "templates.yaml"

var (
	ErrUnknownTemplate   = errors.New("skybox: unknown template")
	ErrUnsupportedFormat = errors.New("skybox: unsupported format")
	ErrMissingImage      = errors.New("skybox: template image missing")
)

type Template struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	File        string `yaml:"file" json:"file"`
}

// Builtin 内置的自然蓝天模板
func Builtin() []Template {
	return []Template{
		{ID: "bluesky1", Name: "Blue Sky with Clouds", Description: "Natural blue sky with white clouds", File: "bluesky1.jpg"},
		{ID: "bluesky2", Name: "Clear Blue Sky", Description: "Clear blue sky with wispy clouds", File: "bluesky2.jpg"},
		{ID: "bluesky3", Name: "Cloudy Blue Sky", Description: "Blue sky with scattered clouds", File: "bluesky3.jpg"},
		{ID: "bluesky4", Name: "Serene Blue Sky", Description: "Peaceful blue sky gradient", File: "bluesky4.jpg"},
	}
}

type manifest struct {
	Templates []Template `yaml:"templates"`
}

// Registry 模板目录 + 解码缓存，并发安全
type Registry struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	templates []Template
	cache     map[string]image.Image
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRegistry(dir string, opts ...Option) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		logger: slog.Default(),
		cache:  map[string]image.Image{},
	}
	for _, o := range opts {
		o(r)
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Dir() string { return r.dir }

// reload 读取清单，没有清单时使用内置模板
func (r *Registry) reload() error {
	templates := Builtin()

	data, err := os.ReadFile(filepath.Join(r.dir, ManifestFile))
	switch {
	case err == nil:
		var m manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse %s: %w", ManifestFile, err)
		}
		for _, t := range m.Templates {
			if t.ID == "" || t.File == "" || filepath.Base(t.File) != t.File {
				return fmt.Errorf("parse %s: template %q needs an id and a plain file name", ManifestFile, t.ID)
			}
		}
		if len(m.Templates) > 0 {
			templates = m.Templates
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read %s: %w", ManifestFile, err)
	}

	r.mu.Lock()
	r.templates = templates
	r.cache = map[string]image.Image{}
	r.mu.Unlock()
	return nil
}

func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Template(nil), r.templates...)
}

func (r *Registry) Get(id string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.templates {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
}

// Random 随机挑一个模板
func (r *Registry) Random() (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.templates) == 0 {
		return Template{}, fmt.Errorf("%w: registry is empty", ErrUnknownTemplate)
	}
	return r.templates[rand.IntN(len(r.templates))], nil
}

// Path 模板图片的完整路径
func (r *Registry) Path(id string) (string, error) {
	t, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.dir, t.File), nil
}

// Image 解码后的模板，首次访问后缓存，文件变化后由 Invalidate 清掉
func (r *Registry) Image(id string) (image.Image, error) {
	r.mu.RLock()
	img, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return img, nil
	}

	path, err := r.Path(id)
	if err != nil {
		return nil, err
	}
	img, err = util.OpenImage(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingImage, path)
		}
		return nil, fmt.Errorf("open template %s: %w", id, err)
	}

	r.mu.Lock()
	r.cache[id] = img
	r.mu.Unlock()
	return img, nil
}

// Put 上传新的模板图片，只接受 jpg/png，覆盖模板对应的文件
func (r *Registry) Put(id, filename string, data []byte) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png":
	default:
		return fmt.Errorf("%w: %q, only jpg and png are allowed", ErrUnsupportedFormat, filename)
	}
	if _, _, err := sky.Decode(data); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	if err := util.WriteFile(filepath.Join(r.dir, t.File), data); err != nil {
		return fmt.Errorf("write template %s: %w", id, err)
	}
	r.Invalidate(id)

	r.logger.Info("sky template updated", "id", id, "file", t.File, "size", len(data))
	return nil
}

// Fetch 从 URL 下载模板图片
func (r *Registry) Fetch(ctx context.Context, id, url string) error {
	data, err := util.DownloadBytes(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch template %s: %w", id, err)
	}
	name := url
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return r.Put(id, name, data)
}

// Invalidate 清掉指定模板的缓存，不传参数时全部清掉
func (r *Registry) Invalidate(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ids) == 0 {
		r.cache = map[string]image.Image{}
		return
	}
	for _, id := range ids {
		delete(r.cache, id)
	}
}
