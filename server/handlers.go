package server

import (
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nfnt/resize"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/skyreplace/sky"
	"github.com/chaos-io/skyreplace/skybox"
	"github.com/chaos-io/skyreplace/util"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".tiff": true, ".tif": true, ".webp": true, ".gif": true,
}

const (
	resultPrefix = "result"
	matteFile    = "matte.png"
)

func (s *Server) handleTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": s.templates.List()})
}

func (s *Server) handleSkybox(c *gin.Context) {
	path, err := s.templates.Path(strings.TrimSuffix(c.Param("name"), filepath.Ext(c.Param("name"))))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Skybox image not found"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Skybox image not found"})
		return
	}
	c.File(path)
}

func (s *Server) handleUploadSkybox(c *gin.Context) {
	name := c.PostForm("skybox_name")
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No file provided"})
		return
	}

	data, err := s.readUpload(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if err := s.templates.Put(name, fh.Filename, data); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, skybox.ErrUnknownTemplate) || errors.Is(err, skybox.ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  fmt.Sprintf("Skybox %s uploaded successfully", name),
		"filename": fh.Filename,
		"size":     len(data),
	})
}

func (s *Server) handleReplace(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No image provided"})
		return
	}
	if !imageExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Unsupported file type"})
		return
	}

	data, err := s.readUpload(fh)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	img, format, err := sky.DecodeLimit(data, s.cfg.MaxPixels)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "stage": sky.StageDecode, "error": err.Error()})
		return
	}
	img = capSize(img, s.cfg.MaxOutputW, s.cfg.MaxOutputH)

	tpl, tplID, err := s.pickTemplate(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "stage": sky.StageComposite, "error": err.Error()})
		return
	}

	opts, err := parseOptions(c, s.defaults)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "stage": sky.StageValidate, "error": err.Error()})
		return
	}

	res, err := s.pipeline.ReplaceSky(c.Request.Context(), img, tpl, opts)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"success": false, "stage": sky.StageOf(err), "error": msg})
		return
	}

	id := ksuid.New().String()
	out, format, err := sky.Encode(res.Image.ToNRGBA(), format)
	if err != nil {
		s.logger.Error("encode result", "id", id, "request_id", c.GetString(requestIDHeader), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "stage": sky.StageEncode, "error": "sky replacement failed"})
		return
	}

	dir := filepath.Join(s.cfg.OutputDir, id)
	if err := util.WriteFile(filepath.Join(dir, resultPrefix+"."+format), out); err != nil {
		s.logger.Error("save result", "id", id, "request_id", c.GetString(requestIDHeader), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "sky replacement failed"})
		return
	}

	resp := gin.H{
		"success":      true,
		"id":           id,
		"template":     tplID,
		"width":        res.Image.Width,
		"height":       res.Image.Height,
		"elapsed_ms":   res.Elapsed.Milliseconds(),
		"download_url": "/api/download/" + id,
	}
	if res.Matte != nil {
		// matte 只用于调试，失败时结果照常返回，只是没有 matte_url
		if err := s.saveMatte(dir, res.Matte); err != nil {
			s.logger.Warn("save matte", "id", id, "request_id", c.GetString(requestIDHeader), "err", err)
		} else {
			resp["matte_url"] = "/api/download/" + id + "/matte"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) saveMatte(dir string, matte *sky.AlphaMatte) error {
	data, _, err := sky.Encode(matte.ToGray(), "png")
	if err != nil {
		return err
	}
	return util.WriteFile(filepath.Join(dir, matteFile), data)
}

func (s *Server) handleDownload(c *gin.Context) {
	dir, ok := s.resultDir(c)
	if !ok {
		return
	}
	matches, _ := filepath.Glob(filepath.Join(dir, resultPrefix+".*"))
	if len(matches) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Processed file not found"})
		return
	}
	c.FileAttachment(matches[0], "skyreplace_result_"+filepath.Base(dir)+filepath.Ext(matches[0]))
}

func (s *Server) handleDownloadMatte(c *gin.Context) {
	dir, ok := s.resultDir(c)
	if !ok {
		return
	}
	path := filepath.Join(dir, matteFile)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Matte not found"})
		return
	}
	c.File(path)
}

// resultDir id 必须是合法的 ksuid，避免路径穿越
func (s *Server) resultDir(c *gin.Context) (string, bool) {
	id, err := ksuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "File not found"})
		return "", false
	}
	return filepath.Join(s.cfg.OutputDir, id.String()), true
}

var errTooLarge = errors.New("file too large")

func (s *Server) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size == 0 {
		return nil, errors.New("uploaded file is empty")
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: maximum size is %d bytes", errTooLarge, s.cfg.MaxUploadBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes))
}

// pickTemplate 优先级: 上传的 sky 文件 > randomize_skybox > sky_template > 第一个模板
func (s *Server) pickTemplate(c *gin.Context) (image.Image, string, error) {
	if fh, err := c.FormFile("sky"); err == nil {
		data, err := s.readUpload(fh)
		if err != nil {
			return nil, "", fmt.Errorf("%w: sky template: %v", sky.ErrInvalidInput, err)
		}
		img, _, err := sky.DecodeLimit(data, s.cfg.MaxPixels)
		if err != nil {
			return nil, "", err
		}
		return img, "upload", nil
	}

	var t skybox.Template
	var err error
	switch {
	case formBool(c, "randomize_skybox"):
		t, err = s.templates.Random()
	case c.PostForm("sky_template") != "":
		t, err = s.templates.Get(c.PostForm("sky_template"))
	default:
		list := s.templates.List()
		if len(list) == 0 {
			return nil, "", skybox.ErrUnknownTemplate
		}
		t = list[0]
	}
	if err != nil {
		return nil, "", err
	}

	img, err := s.templates.Image(t.ID)
	if err != nil {
		return nil, "", err
	}
	return img, t.ID, nil
}

func parseOptions(c *gin.Context, o sky.Options) (sky.Options, error) {
	floats := map[string]*float64{
		"harmonization_strength": &o.HarmonizationStrength,
		"boundary_softness":      &o.BoundarySoftness,
		"guided_epsilon":         &o.GuidedEpsilon,
		"sky_center_crop":        &o.SkyCenterCrop,
		"recoloring_factor":      &o.RecoloringFactor,
		"relighting_factor":      &o.RelightingFactor,
	}
	for k, p := range floats {
		if v := c.PostForm(k); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return o, fmt.Errorf("%w: %s: %v", sky.ErrInvalidInput, k, err)
			}
			*p = f
		}
	}

	ints := map[string]*int{
		"working_resolution": &o.WorkingResolution,
		"guided_radius":      &o.GuidedRadius,
	}
	for k, p := range ints {
		if v := c.PostForm(k); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return o, fmt.Errorf("%w: %s: %v", sky.ErrInvalidInput, k, err)
			}
			*p = n
		}
	}

	bools := map[string]*bool{
		"halo_effect":         &o.HaloEffect,
		"auto_light_matching": &o.AutoLightMatching,
		"debug":               &o.Debug,
	}
	for k, p := range bools {
		if v := c.PostForm(k); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return o, fmt.Errorf("%w: %s: %v", sky.ErrInvalidInput, k, err)
			}
			*p = b
		}
	}
	return o, o.Validate()
}

func formBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.PostForm(key))
	return b
}

// statusFor 把流水线错误映射为 HTTP 状态码和给用户看的信息
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sky.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, sky.ErrInference):
		return http.StatusUnprocessableEntity, "sky detection failed for this image, try another working_resolution"
	default:
		return http.StatusInternalServerError, "sky replacement failed"
	}
}

// capSize 超过上限 (默认 4K) 时等比缩小，宽高取偶数
func capSize(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(2, int(float64(w)*scale)&^1)
	nh := max(2, int(float64(h)*scale)&^1)
	return resize.Resize(uint(nw), uint(nh), img, resize.Lanczos3)
}
