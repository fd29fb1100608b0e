package http

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次请求
//
// Body 为 io.Reader 或 []byte 时原样发送，其它类型按 JSON 序列化。
// Response 非空时把响应体按 JSON 解到 Response 上；RawResponse 非空时保存原始响应体。
// MaxResponseBytes 大于 0 时响应体超过该大小直接报错。
type RequestParam struct {
	RequestURI  string
	Method      string
	Header      map[string]string
	Body        interface{}
	Response    interface{}
	RawResponse *[]byte

	MaxResponseBytes int64
	Timeout          time.Duration
}
