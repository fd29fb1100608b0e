package sky

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	jpegQuality = 95
	// DefaultMaxPixels 完整解码前允许的像素数，约 50MP
	DefaultMaxPixels = 50_000_000
)

// Decode 解码上传的图片字节，返回格式名，像素上限为 DefaultMaxPixels
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit 先只读文件头拿尺寸，超过 maxPixels 的图片不做完整解码
// maxPixels <= 0 时用 DefaultMaxPixels
func DecodeLimit(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image data", ErrInvalidInput)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode image: %v", ErrInvalidInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: image is %dx%d", ErrInvalidInput, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: image is %dx%d, over the %d pixel limit",
			ErrInvalidInput, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode image: %v", ErrInvalidInput, err)
	}
	return img, format, nil
}

// Encode 按输入格式编码；没有编码器的格式 (webp, gif) 输出 png
func Encode(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "tiff":
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		format = "png"
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), format, nil
}

// ContentType 格式名对应的 MIME
func ContentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return "image/png"
	}
}
