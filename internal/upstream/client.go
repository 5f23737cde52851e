package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNetwork 表示请求未得到任何 HTTP 响应（连接失败、超时等）。
var ErrNetwork = errors.New("network error")

// StatusError 表示上游返回了非 2xx 状态，携带请求 URL 便于定位。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unable to fetch %s: status %d", e.URL, e.StatusCode)
}

// Options 控制重试行为；MaxRetries 为 0 时仅请求一次。
type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Client 在共享 http.Client 之上提供整包读取与 JSON 解码，并对瞬时故障重试。
type Client struct {
	http    *http.Client
	retries int
	backoff time.Duration
}

// Response 是一次成功请求的完整结果。
type Response struct {
	URL         string
	ContentType string
	Body        []byte
}

// NewClient 构造上游客户端；httpClient 为 nil 时使用 http.DefaultClient。
func NewClient(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Client{
		http:    httpClient,
		retries: max(opts.MaxRetries, 0),
		backoff: backoff,
	}
}

// Get 请求 url 并读取完整响应体。非 2xx 响应返回 *StatusError。
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	var result *Response
	err := Retry(ctx, c.retries+1, c.backoff, func() error {
		resp, err := c.do(ctx, url)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetJSON 请求 url 并将响应体解码到 v。
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)}
	}
	defer resp.Body.Close()

	if err := checkStatus(url, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("%w: read %s: %v", ErrNetwork, url, err)}
	}
	return &Response{
		URL:         url,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func checkStatus(url string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return &RetryableError{Err: &StatusError{URL: url, StatusCode: code}}
	default:
		return &StatusError{URL: url, StatusCode: code}
	}
}
