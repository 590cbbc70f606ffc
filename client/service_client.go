/*
 * @module client/service_client
 * @description 依赖服务数据抓取客户端，带超时与健康探测，按失败类别归类错误
 * @architecture 适配器模式 - 封装出站HTTP访问，暴露统一抓取接口
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 健康探测 -> 认证注入 -> 数据请求 -> 载荷返回/错误归类
 * @rules 单服务失败只影响该服务的抓取结果，错误必须可归类为 timeout/auth/http/parse
 * @dependencies net/http, validator-service/service/models
 * @refs auth.go, service/validation/fetcher.go
 */

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"validator-service/service/models"
)

// FetchErrorKind 抓取错误类别
type FetchErrorKind string

const (
	FetchErrTimeout FetchErrorKind = "timeout"
	FetchErrAuth    FetchErrorKind = "auth"
	FetchErrHTTP    FetchErrorKind = "http"
	FetchErrParse   FetchErrorKind = "parse"
)

// FetchError 带类别的抓取错误
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassifyFetchError 将抓取错误映射为 FetchOutcome 状态
func ClassifyFetchError(err error) models.FetchStatus {
	var fe *FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case FetchErrTimeout:
			return models.FetchTimeout
		case FetchErrAuth:
			return models.FetchAuthError
		case FetchErrParse:
			return models.FetchParseError
		default:
			return models.FetchHTTPError
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.FetchTimeout
	}
	return models.FetchHTTPError
}

// ServiceClient 依赖服务抓取接口
type ServiceClient interface {
	// Fetch 抓取服务数据，返回原始载荷
	Fetch(ctx context.Context, endpoint models.ServiceEndpoint) ([]byte, error)
	// HealthCheck 数据抓取前的健康探测
	HealthCheck(ctx context.Context, endpoint models.ServiceEndpoint) error
}

// HTTPServiceClient 基于 net/http 的服务客户端实现
type HTTPServiceClient struct {
	httpClient *http.Client
}

// NewHTTPServiceClient 创建HTTP服务客户端
// 传输层超时由每次调用的 context 控制，客户端自身不设全局超时
func NewHTTPServiceClient() *HTTPServiceClient {
	return &HTTPServiceClient{
		httpClient: &http.Client{},
	}
}

// HealthCheck 访问端点的健康检查路径，非2xx视为服务不可用
func (c *HTTPServiceClient) HealthCheck(ctx context.Context, endpoint models.ServiceEndpoint) error {
	if endpoint.HealthCheckPath == "" {
		return nil
	}

	healthURL := strings.TrimRight(endpoint.Endpoint, "/") + endpoint.HealthCheckPath
	if _, err := c.doRequest(ctx, endpoint, healthURL); err != nil {
		return err
	}
	return nil
}

// Fetch 抓取服务数据
func (c *HTTPServiceClient) Fetch(ctx context.Context, endpoint models.ServiceEndpoint) ([]byte, error) {
	return c.doRequest(ctx, endpoint, endpoint.Endpoint)
}

func (c *HTTPServiceClient) doRequest(ctx context.Context, endpoint models.ServiceEndpoint, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrHTTP, Err: fmt.Errorf("创建HTTP请求失败: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	authenticator, err := AuthenticatorFor(endpoint.AuthConfig.AuthType)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrAuth, Err: err}
	}
	if err := authenticator.Apply(ctx, req, endpoint.AuthConfig); err != nil {
		return nil, &FetchError{Kind: FetchErrAuth, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &FetchError{Kind: FetchErrTimeout, Err: fmt.Errorf("请求服务 %s 超时: %w", endpoint.ServiceID, err)}
		}
		return nil, &FetchError{Kind: FetchErrHTTP, Err: fmt.Errorf("请求服务 %s 失败: %w", endpoint.ServiceID, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrHTTP, Err: fmt.Errorf("读取响应失败: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &FetchError{Kind: FetchErrAuth, Err: fmt.Errorf("服务 %s 认证被拒绝, 状态码 %d", endpoint.ServiceID, resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &FetchError{Kind: FetchErrHTTP, Err: fmt.Errorf("服务 %s 返回状态码 %d", endpoint.ServiceID, resp.StatusCode)}
	}

	return body, nil
}

// isTimeout 判断传输层错误是否为超时
func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// 编译期保证接口实现
var _ ServiceClient = (*HTTPServiceClient)(nil)
