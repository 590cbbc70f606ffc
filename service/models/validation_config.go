/*
 * @module service/models/validation_config
 * @description 校验配置模型，定义主服务、依赖服务、校验规则和告警策略
 * @architecture 领域模型层 - 配置实体
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 配置创建 -> 调度注册 -> 校验运行引用（运行期间配置不可变）
 * @rules 配置编辑只在下一次调度运行生效，运行中的 Run 持有创建时的配置快照
 * @dependencies gorm.io/gorm, time
 * @refs run.go, service/storage/config_store.go
 */

package models

import (
	"fmt"
	"time"
)

// AuthType 服务认证类型
type AuthType string

const (
	AuthAPIKey           AuthType = "api_key"
	AuthBearerToken      AuthType = "bearer_token"
	AuthBasic            AuthType = "basic"
	AuthOAuth2           AuthType = "oauth2_client_credentials"
	AuthServicePrincipal AuthType = "service_principal"
	AuthCustomHeaders    AuthType = "custom_headers"
)

// AuthConfig 服务认证配置
type AuthConfig struct {
	AuthType      AuthType          `json:"auth_type"`
	Credentials   map[string]string `json:"credentials,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	TokenEndpoint string            `json:"token_endpoint,omitempty"`
	Scopes        []string          `json:"scopes,omitempty"`
}

// ServiceEndpoint 被校验服务的端点定义
type ServiceEndpoint struct {
	ServiceID       string     `json:"service_id"`
	Name            string     `json:"name,omitempty"`
	Endpoint        string     `json:"endpoint"`
	AuthConfig      AuthConfig `json:"auth_config"`
	HealthCheckPath string     `json:"health_check_path,omitempty"`
	TimeoutSeconds  int        `json:"timeout_seconds,omitempty"`
}

// Timeout 单服务抓取超时，默认30秒
func (e ServiceEndpoint) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ComparatorType 字段比较器类型
type ComparatorType string

const (
	CompareEquality      ComparatorType = "equality"
	CompareNumTolerance  ComparatorType = "numeric_tolerance"
	CompareSetMembership ComparatorType = "set_membership"
)

// FieldSpec 规则中单个期望字段的比较定义
type FieldSpec struct {
	Path          string         `json:"path"`
	Comparator    ComparatorType `json:"comparator,omitempty"` // 缺省为 equality
	Tolerance     float64        `json:"tolerance,omitempty"`
	AllowedValues []string       `json:"allowed_values,omitempty"` // set_membership 的合法值集合
	Critical      bool           `json:"critical,omitempty"`       // 标记为关键字段，不一致直接 Critical
	CustomExpr    string         `json:"custom_expr,omitempty"`    // 自定义比较表达式，求值失败回退到声明比较器
}

// EffectiveComparator 规则字段的生效比较器，缺省等值比较
func (f FieldSpec) EffectiveComparator() ComparatorType {
	if f.Comparator == "" {
		return CompareEquality
	}
	return f.Comparator
}

// ValidationRule 数据一致性校验规则
// TargetService 为空表示对源服务做自检（期望字段存在且非空）
type ValidationRule struct {
	RuleID         string      `json:"rule_id"`
	Name           string      `json:"name,omitempty"`
	Description    string      `json:"description,omitempty"`
	SourceService  string      `json:"source_service"`
	TargetService  string      `json:"target_service,omitempty"`
	KeyField       string      `json:"key_field,omitempty"` // 关联键字段，缺省 id
	ExpectedFields []FieldSpec `json:"expected_fields"`
}

// JoinKey 记录配对使用的关联键字段
func (r ValidationRule) JoinKey() string {
	if r.KeyField == "" {
		return "id"
	}
	return r.KeyField
}

// AlertChannel 告警渠道
type AlertChannel string

const (
	ChannelEmail   AlertChannel = "email"
	ChannelSlack   AlertChannel = "slack"
	ChannelWebhook AlertChannel = "webhook"
)

// ChannelConfig 单个告警渠道配置
type ChannelConfig struct {
	Channel    AlertChannel      `json:"channel"`
	Enabled    bool              `json:"enabled"`
	Target     string            `json:"target,omitempty"`     // slack/webhook 的 URL
	Recipients []string          `json:"recipients,omitempty"` // email 收件人
	Extra      map[string]string `json:"extra,omitempty"`
}

// AlertPolicy 告警阈值与抑制策略
type AlertPolicy struct {
	CriticalThreshold     int             `json:"critical_threshold,omitempty"`      // 缺省 1
	WarningThreshold      int             `json:"warning_threshold,omitempty"`       // 缺省 3
	AnomalyRatioThreshold float64         `json:"anomaly_ratio_threshold,omitempty"` // 0 表示禁用比例阈值
	CooldownMinutes       int             `json:"cooldown_minutes,omitempty"`        // 缺省为一个校验间隔
	Channels              []ChannelConfig `json:"channels,omitempty"`
}

// EffectiveCriticalThreshold Critical 告警阈值，缺省 1
func (p AlertPolicy) EffectiveCriticalThreshold() int {
	if p.CriticalThreshold <= 0 {
		return 1
	}
	return p.CriticalThreshold
}

// EffectiveWarningThreshold Warning 告警阈值，缺省 3
func (p AlertPolicy) EffectiveWarningThreshold() int {
	if p.WarningThreshold <= 0 {
		return 3
	}
	return p.WarningThreshold
}

// Cooldown 抑制冷却窗口，缺省为一个校验间隔
func (p AlertPolicy) Cooldown(interval time.Duration) time.Duration {
	if p.CooldownMinutes > 0 {
		return time.Duration(p.CooldownMinutes) * time.Minute
	}
	return interval
}

// ValidationConfig 校验配置主实体
type ValidationConfig struct {
	ID                string              `gorm:"primaryKey;type:varchar(36)" json:"config_id"`
	Name              string              `gorm:"type:varchar(255);not null" json:"name"`
	PrimaryService    ServiceEndpointDoc  `gorm:"type:jsonb" json:"primary_service"`
	DependentServices ServiceEndpointList `gorm:"type:jsonb" json:"dependent_services"`
	ValidationRules   ValidationRuleList  `gorm:"type:jsonb" json:"validation_rules"`
	AlertPolicy       AlertPolicyDoc      `gorm:"type:jsonb" json:"alert_policy"`
	IntervalMinutes   int                 `gorm:"default:60" json:"interval_minutes"`
	ScheduleCron      string              `gorm:"type:varchar(64)" json:"schedule_cron,omitempty"`
	Enabled           bool                `json:"enabled"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// TableName 指定表名
func (ValidationConfig) TableName() string {
	return "validation_configs"
}

// Interval 校验间隔，下限1分钟
func (c *ValidationConfig) Interval() time.Duration {
	if c.IntervalMinutes < 1 {
		return time.Minute
	}
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Services 主服务加全部依赖服务
func (c *ValidationConfig) Services() []ServiceEndpoint {
	services := make([]ServiceEndpoint, 0, len(c.DependentServices)+1)
	services = append(services, ServiceEndpoint(c.PrimaryService))
	services = append(services, c.DependentServices...)
	return services
}

// FindService 按 service_id 查找服务端点
func (c *ValidationConfig) FindService(serviceID string) (ServiceEndpoint, bool) {
	for _, svc := range c.Services() {
		if svc.ServiceID == serviceID {
			return svc, true
		}
	}
	return ServiceEndpoint{}, false
}

// Validate 配置合法性检查
func (c *ValidationConfig) Validate() error {
	if c.PrimaryService.ServiceID == "" {
		return fmt.Errorf("主服务 service_id 不能为空")
	}
	if c.IntervalMinutes < 1 {
		return fmt.Errorf("校验间隔不能小于1分钟")
	}
	seen := map[string]bool{c.PrimaryService.ServiceID: true}
	for _, svc := range c.DependentServices {
		if svc.ServiceID == "" {
			return fmt.Errorf("依赖服务 service_id 不能为空")
		}
		if seen[svc.ServiceID] {
			return fmt.Errorf("服务 %s 重复定义", svc.ServiceID)
		}
		seen[svc.ServiceID] = true
	}
	rules := map[string]bool{}
	for _, rule := range c.ValidationRules {
		if rule.RuleID == "" {
			return fmt.Errorf("规则 rule_id 不能为空")
		}
		if rules[rule.RuleID] {
			return fmt.Errorf("规则 %s 重复定义", rule.RuleID)
		}
		rules[rule.RuleID] = true
		if !seen[rule.SourceService] {
			return fmt.Errorf("规则 %s 引用了未定义的源服务 %s", rule.RuleID, rule.SourceService)
		}
		if rule.TargetService != "" && !seen[rule.TargetService] {
			return fmt.Errorf("规则 %s 引用了未定义的目标服务 %s", rule.RuleID, rule.TargetService)
		}
	}
	return nil
}
