package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/skyreplace/model"
	"github.com/chaos-io/skyreplace/sky"
	"github.com/chaos-io/skyreplace/skybox"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: ExitSuccess},
		{err: errors.New("disk full"), want: ExitGeneralError},
		{err: fmt.Errorf("%w: %w", sky.ErrModelLoad, model.ErrCheckpointNotFound), want: ExitStartupFatal},
		{err: &sky.Error{Stage: sky.StageInference, Err: sky.ErrInference}, want: ExitInference},
		{err: &sky.Error{Stage: sky.StageValidate, Err: sky.ErrInvalidInput}, want: ExitInvalidInput},
		{err: skybox.ErrUnknownTemplate, want: ExitInvalidInput},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestModelInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prior.skym")

	out, err := run(t, "model", "init", "--out", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, model.Checksum(data)))

	_, err = model.ReadCheckpoint(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestTemplatesList(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skyreplace.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("templates:\n  dir: "+dir+"\n"), 0o644))

	out, err := run(t, "templates", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "bluesky1")
	assert.Contains(t, out, "Serene Blue Sky")
}

func TestReplace(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "prior.skym")
	_, err := run(t, "model", "init", "--out", ckpt)
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "skyreplace.yaml")
	cfg := fmt.Sprintf("model:\n  path: %s\ntemplates:\n  dir: %s\n", ckpt, dir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	photo := filepath.Join(dir, "photo.png")
	writePNG(t, photo, 32, 24, color.NRGBA{R: 100, G: 150, B: 230, A: 255})
	skyPath := filepath.Join(dir, "sky.png")
	writePNG(t, skyPath, 16, 16, color.NRGBA{B: 255, A: 255})

	out := filepath.Join(dir, "out", "result.png")
	matte := filepath.Join(dir, "out", "matte.png")
	_, err = run(t, "replace", photo, "--config", cfgPath, "--sky", skyPath,
		"-o", out, "--matte", matte, "--softness", "0.2")
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())

	_, err = os.Stat(matte)
	assert.NoError(t, err)

	// 内置模板没有图片
	_, err = run(t, "replace", photo, "--config", cfgPath, "-o", out, "--template", "bluesky2")
	assert.Equal(t, ExitInvalidInput, ExitCode(err))

	// 参数越界
	_, err = run(t, "replace", photo, "--config", cfgPath, "--sky", skyPath, "-o", out, "--harmonization", "5")
	assert.Equal(t, ExitInvalidInput, ExitCode(err))
}

func TestReplace_MissingWeights(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skyreplace.yaml")
	cfg := fmt.Sprintf("model:\n  path: %s\n", filepath.Join(dir, "missing.skym"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	photo := filepath.Join(dir, "photo.png")
	writePNG(t, photo, 8, 8, color.White)
	skyPath := filepath.Join(dir, "sky.png")
	writePNG(t, skyPath, 8, 8, color.White)

	_, err := run(t, "replace", photo, "--config", cfgPath, "--sky", skyPath, "-o", filepath.Join(dir, "out.png"))
	assert.ErrorIs(t, err, sky.ErrModelLoad)
	assert.Equal(t, ExitStartupFatal, ExitCode(err))

	// serve 在监听之前就失败
	_, err = run(t, "serve", "--config", cfgPath, "--addr", "127.0.0.1:0")
	assert.Equal(t, ExitStartupFatal, ExitCode(err))
}

func TestServe_BadManifest(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "prior.skym")
	_, err := run(t, "model", "init", "--out", weights)
	require.NoError(t, err)

	tplDir := filepath.Join(dir, "skybox")
	require.NoError(t, os.MkdirAll(tplDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tplDir, skybox.ManifestFile), []byte("templates: [oops"), 0o644))

	cfgPath := filepath.Join(dir, "skyreplace.yaml")
	cfg := fmt.Sprintf("model:\n  path: %s\ntemplates:\n  dir: %s\n", weights, tplDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	// 模板清单错误按输入错误退出，不是模型加载失败
	_, err = run(t, "serve", "--config", cfgPath, "--addr", "127.0.0.1:0")
	require.Error(t, err)
	assert.NotErrorIs(t, err, sky.ErrModelLoad)
	assert.ErrorIs(t, err, sky.ErrInvalidInput)
	assert.Equal(t, ExitInvalidInput, ExitCode(err))
}

func TestReplace_PixelLimit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skyreplace.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  max_pixels: 50\n"), 0o644))

	photo := filepath.Join(dir, "photo.png")
	writePNG(t, photo, 10, 10, color.White)

	_, err := run(t, "replace", photo, "--config", cfgPath, "-o", filepath.Join(dir, "out.png"))
	assert.ErrorIs(t, err, sky.ErrInvalidInput)
	assert.Equal(t, ExitInvalidInput, ExitCode(err))
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jpeg", formatOf(".JPG"))
	assert.Equal(t, "jpeg", formatOf(".jpeg"))
	assert.Equal(t, "tiff", formatOf(".tif"))
	assert.Equal(t, "png", formatOf(".png"))
}
