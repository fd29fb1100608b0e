package util

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"

	nhttp "github.com/chaos-io/skyreplace/util/http"
)

// maxDownloadBytes 远程图片的大小上限
const maxDownloadBytes = 32 << 20

var downloadClient = nhttp.NewHTTPClient()

// DownloadBytes 下载原始字节，不解码
func DownloadBytes(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI:       url,
		Method:           http.MethodGet,
		RawResponse:      &data,
		MaxResponseBytes: maxDownloadBytes,
	}
	if err := downloadClient.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return data, nil
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := image.Decode(file)
	return img, err
}

// WriteFile 先写临时文件再 rename，避免读到写了一半的结果
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
