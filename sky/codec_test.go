package sky

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	_, _, err := Decode(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = Decode([]byte("not an image"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	img, format, err := Decode(encodePNG(t, solid(3, 2, blue)))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 3, img.Bounds().Dx())
}

// pngHeader 只有签名和 IHDR 的 PNG，足够让 DecodeConfig 读出尺寸
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 0, 0, 0, 0) // 8 位灰度

	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecode_PixelLimit(t *testing.T) {
	t.Parallel()

	// 文件头声明 16000x16000，不应该进入完整解码
	_, _, err := Decode(pngHeader(16000, 16000))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorContains(t, err, "pixel limit")

	data := encodePNG(t, solid(20, 20, blue))
	tests := []struct {
		name      string
		maxPixels int
		wantErr   bool
	}{
		{name: "超过上限", maxPixels: 399, wantErr: true},
		{name: "刚好等于上限", maxPixels: 400},
		{name: "0 使用默认上限", maxPixels: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, _, err := DecodeLimit(data, tt.maxPixels)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 20, img.Bounds().Dx())
		})
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	img := solid(8, 8, gray)
	tests := []struct {
		format string
		want   string
	}{
		{format: "jpeg", want: "jpeg"},
		{format: "png", want: "png"},
		{format: "bmp", want: "bmp"},
		{format: "tiff", want: "tiff"},
		{format: "webp", want: "png"},
		{format: "gif", want: "png"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			data, format, err := Encode(img, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, format)

			decoded, got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, img.Bounds(), decoded.Bounds())
		})
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image/jpeg", ContentType("jpeg"))
	assert.Equal(t, "image/png", ContentType("webp"))
}
