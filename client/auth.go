/*
 * @module client/auth
 * @description 服务认证器，按认证类型为出站请求附加凭据，每种 auth_type 一个实现
 * @architecture 策略模式 - 认证策略按类型注册分派
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 认证配置解析 -> 凭据获取（必要时换取令牌） -> 请求头注入
 * @rules 认证失败归类为 AuthError，不向外传播原始凭据内容
 * @dependencies golang.org/x/oauth2/clientcredentials, net/http
 * @refs service_client.go, service/models/validation_config.go
 */

package client

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"validator-service/service/models"
)

// Authenticator 认证器接口，为请求附加认证信息
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request, auth models.AuthConfig) error
}

// AuthenticatorFor 按认证类型返回认证器
func AuthenticatorFor(authType models.AuthType) (Authenticator, error) {
	switch authType {
	case models.AuthAPIKey:
		return &apiKeyAuthenticator{}, nil
	case models.AuthBearerToken:
		return &bearerAuthenticator{}, nil
	case models.AuthBasic:
		return &basicAuthenticator{}, nil
	case models.AuthOAuth2, models.AuthServicePrincipal:
		return &oauth2Authenticator{}, nil
	case models.AuthCustomHeaders:
		return &customHeaderAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("不支持的认证类型: %s", authType)
	}
}

// apiKeyAuthenticator API Key 认证，凭据键 api_key，可选 header_name 指定请求头
type apiKeyAuthenticator struct{}

func (a *apiKeyAuthenticator) Apply(_ context.Context, req *http.Request, auth models.AuthConfig) error {
	key := auth.Credentials["api_key"]
	if key == "" {
		return fmt.Errorf("api_key 凭据缺失")
	}
	header := auth.Credentials["header_name"]
	if header == "" {
		header = "X-API-Key"
	}
	req.Header.Set(header, key)
	return nil
}

// bearerAuthenticator Bearer Token 认证，凭据键 token
type bearerAuthenticator struct{}

func (a *bearerAuthenticator) Apply(_ context.Context, req *http.Request, auth models.AuthConfig) error {
	token := auth.Credentials["token"]
	if token == "" {
		return fmt.Errorf("bearer token 凭据缺失")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// basicAuthenticator HTTP Basic 认证，凭据键 username/password
type basicAuthenticator struct{}

func (a *basicAuthenticator) Apply(_ context.Context, req *http.Request, auth models.AuthConfig) error {
	username := auth.Credentials["username"]
	if username == "" {
		return fmt.Errorf("basic 认证 username 凭据缺失")
	}
	req.SetBasicAuth(username, auth.Credentials["password"])
	return nil
}

// oauth2Authenticator OAuth2 客户端凭据模式，service_principal 复用同一流程
// service_principal 额外要求 tenant_id，用于拼接租户级令牌端点
type oauth2Authenticator struct{}

func (a *oauth2Authenticator) Apply(ctx context.Context, req *http.Request, auth models.AuthConfig) error {
	clientID := auth.Credentials["client_id"]
	clientSecret := auth.Credentials["client_secret"]
	if clientID == "" || clientSecret == "" {
		return fmt.Errorf("oauth2 client_id/client_secret 凭据缺失")
	}

	tokenURL := auth.TokenEndpoint
	if tokenURL == "" {
		if tenant := auth.Credentials["tenant_id"]; tenant != "" {
			tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant)
		}
	}
	if tokenURL == "" {
		return fmt.Errorf("oauth2 令牌端点未配置")
	}

	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       auth.Scopes,
	}

	token, err := conf.Token(ctx)
	if err != nil {
		return fmt.Errorf("获取访问令牌失败: %w", err)
	}

	token.SetAuthHeader(req)
	return nil
}

// customHeaderAuthenticator 自定义请求头认证
type customHeaderAuthenticator struct{}

func (a *customHeaderAuthenticator) Apply(_ context.Context, req *http.Request, auth models.AuthConfig) error {
	if len(auth.Headers) == 0 {
		return fmt.Errorf("自定义认证请求头为空")
	}
	for k, v := range auth.Headers {
		req.Header.Set(k, v)
	}
	return nil
}
