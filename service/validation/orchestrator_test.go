package validation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-service/client"
	"validator-service/service/events"
	"validator-service/service/extraction"
	"validator-service/service/models"
	"validator-service/service/notifier"
	"validator-service/service/runlock"
	"validator-service/service/storage"
	"validator-service/service/suppression"
	"validator-service/testutil"
)

// memoryPublisher 收集运行事件的假发布器
type memoryPublisher struct {
	mu     sync.Mutex
	events []events.RunEvent
}

func (p *memoryPublisher) Publish(_ context.Context, event events.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *memoryPublisher) Close() error { return nil }

func (p *memoryPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.EventType)
	}
	return types
}

// recordsHandler 返回固定记录数组的服务端点
func recordsHandler(count int, amountOf func(i int) float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := "["
		for i := 0; i < count; i++ {
			if i > 0 {
				body += ","
			}
			body += fmt.Sprintf(`{"id":"order-%03d","amount":%g}`, i, amountOf(i))
		}
		body += "]"
		_, _ = w.Write([]byte(body))
	}
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	configs      *storage.ConfigStore
	runs         *storage.RunStore
	lock         *runlock.MemoryRunLock
	publisher    *memoryPublisher
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	db := testutil.NewTestDB()
	t.Cleanup(func() { db.Close() })

	configs := storage.NewConfigStore(db.DB)
	runs := storage.NewRunStore(db.DB)
	fetcher := NewDataFetcher(client.NewHTTPServiceClient(), extraction.NewJSONExtractor(), 5)
	decider := NewAlertDecider(suppression.NewMemoryLedger(), notifier.NewNotifier())
	lock := runlock.NewMemoryRunLock()
	publisher := &memoryPublisher{}

	return &orchestratorFixture{
		orchestrator: NewOrchestrator(configs, runs, fetcher, NewReconciler(), decider, lock, publisher),
		configs:      configs,
		runs:         runs,
		lock:         lock,
		publisher:    publisher,
	}
}

func endpoint(serviceID, url string) models.ServiceEndpoint {
	return models.ServiceEndpoint{
		ServiceID: serviceID,
		Endpoint:  url,
		AuthConfig: models.AuthConfig{
			AuthType:    models.AuthAPIKey,
			Credentials: map[string]string{"api_key": "test-key"},
		},
	}
}

func pipelineConfig(alertTarget, billingURL, ledgerURL string) *models.ValidationConfig {
	return &models.ValidationConfig{
		ID:                "cfg-pipeline",
		Name:              "计费台账对账",
		PrimaryService:    models.ServiceEndpointDoc(endpoint("billing", billingURL)),
		DependentServices: models.ServiceEndpointList{endpoint("ledger", ledgerURL)},
		ValidationRules: models.ValidationRuleList{
			{
				RuleID:         "rule-amount",
				SourceService:  "billing",
				TargetService:  "ledger",
				KeyField:       "id",
				ExpectedFields: []models.FieldSpec{{Path: "amount"}},
			},
		},
		AlertPolicy: models.AlertPolicyDoc{
			Channels: []models.ChannelConfig{
				{Channel: models.ChannelWebhook, Enabled: true, Target: alertTarget},
			},
		},
		IntervalMinutes: 60,
		Enabled:         true,
	}
}

func TestTriggerFullPipeline(t *testing.T) {
	billing := httptest.NewServer(recordsHandler(20, func(i int) float64 { return float64(i) * 10 }))
	defer billing.Close()
	// 台账侧缺少末尾5条记录
	ledger := httptest.NewServer(recordsHandler(15, func(i int) float64 { return float64(i) * 10 }))
	defer ledger.Close()

	var alertCount int
	alerts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		alertCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer alerts.Close()

	f := newOrchestratorFixture(t)
	cfg := pipelineConfig(alerts.URL, billing.URL, ledger.URL)
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	run, err := f.orchestrator.Trigger(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, models.RunCompleted, run.State)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, 1, run.RulesChecked)
	assert.Equal(t, 15, run.KeysCompared)

	// 5条对端缺失差异，均为 Warning
	require.Len(t, run.Anomalies, 5)
	for _, anomaly := range run.Anomalies {
		assert.Equal(t, models.AnomalyMissingCounterpart, anomaly.Kind)
		assert.Equal(t, models.SeverityWarning, anomaly.Severity)
	}

	// 5条 Warning 超过缺省阈值3，Webhook 渠道收到一次告警
	require.Len(t, run.AlertsSent, 1)
	assert.True(t, run.AlertsSent[0].Delivered)
	assert.Equal(t, 1, alertCount)

	// 终态已落库，抓取结果随运行持久化
	stored, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, stored.State)
	assert.Equal(t, models.FetchOk, stored.FetchResults["billing"].Status)
	assert.Equal(t, models.FetchOk, stored.FetchResults["ledger"].Status)

	// 生命周期事件按序发布
	assert.Equal(t, []string{"run_started", "run_completed"}, f.publisher.eventTypes())

	// 运行锁已释放，可立即再次触发
	acquired, err := f.lock.TryLock(context.Background(), cfg.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestTriggerAllFetchesFailed(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	f := newOrchestratorFixture(t)
	cfg := pipelineConfig("http://unused.local", broken.URL, broken.URL)
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	run, err := f.orchestrator.Trigger(context.Background(), cfg.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunFailed, run.State)
	assert.Equal(t, "全部服务抓取失败，无可评估规则", run.Reason)
	assert.Empty(t, run.AlertsSent)

	// 部分结果随失败运行保留
	stored, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FetchHTTPError, stored.FetchResults["billing"].Status)
	assert.Equal(t, models.FetchHTTPError, stored.FetchResults["ledger"].Status)
}

func TestTriggerNoRulesEvaluable(t *testing.T) {
	healthy := httptest.NewServer(recordsHandler(3, func(i int) float64 { return 1 }))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	f := newOrchestratorFixture(t)
	// 唯一规则引用了抓取失败的目标服务，规则被跳过
	cfg := pipelineConfig("http://unused.local", healthy.URL, broken.URL)
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	run, err := f.orchestrator.Trigger(context.Background(), cfg.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunFailed, run.State)
	assert.Equal(t, "没有任何规则可评估", run.Reason)
	assert.Equal(t, 0, run.RulesChecked)
}

func TestTriggerCoalescing(t *testing.T) {
	f := newOrchestratorFixture(t)
	cfg := pipelineConfig("http://unused.local", "http://billing.local", "http://ledger.local")
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	// 模拟进行中的运行：锁被持有且存在非终态运行记录
	acquired, err := f.lock.TryLock(context.Background(), cfg.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	active := &models.ValidationRun{
		ID:        "run-active",
		ConfigID:  cfg.ID,
		State:     models.RunFetching,
		StartedAt: time.Now(),
	}
	require.NoError(t, f.runs.Save(context.Background(), active))

	run, err := f.orchestrator.Trigger(context.Background(), cfg.ID)
	assert.ErrorIs(t, err, ErrRunActive)
	require.NotNil(t, run)
	assert.Equal(t, "run-active", run.ID)

	// 合并触发不产生新运行
	runs, err := f.runs.ListByConfig(context.Background(), cfg.ID, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestTriggerDisabledConfig(t *testing.T) {
	f := newOrchestratorFixture(t)
	cfg := pipelineConfig("http://unused.local", "http://billing.local", "http://ledger.local")
	cfg.Enabled = false
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	run, err := f.orchestrator.Trigger(context.Background(), cfg.ID)
	assert.ErrorIs(t, err, ErrConfigDisabled)
	require.NotNil(t, run)
	assert.Equal(t, models.RunFailed, run.State)
	assert.Contains(t, run.Reason, "已禁用")

	// 锁已释放
	acquired, lockErr := f.lock.TryLock(context.Background(), cfg.ID, time.Minute)
	require.NoError(t, lockErr)
	assert.True(t, acquired)
}

func TestTriggerConfigNotFound(t *testing.T) {
	f := newOrchestratorFixture(t)

	run, err := f.orchestrator.Trigger(context.Background(), "no-such-config")
	assert.ErrorIs(t, err, storage.ErrConfigNotFound)
	assert.Nil(t, run)
}

func TestTriggerAsyncReturnsPendingRun(t *testing.T) {
	billing := httptest.NewServer(recordsHandler(3, func(i int) float64 { return 1 }))
	defer billing.Close()
	ledger := httptest.NewServer(recordsHandler(3, func(i int) float64 { return 1 }))
	defer ledger.Close()

	f := newOrchestratorFixture(t)
	cfg := pipelineConfig("http://unused.local", billing.URL, ledger.URL)
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	run, err := f.orchestrator.TriggerAsync(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.RunPending, run.State)

	// 后台执行最终落入终态
	assert.Eventually(t, func() bool {
		stored, err := f.runs.Get(context.Background(), run.ID)
		return err == nil && stored.State.IsTerminal()
	}, 5*time.Second, 50*time.Millisecond)

	stored, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, stored.State)
	assert.Empty(t, stored.Anomalies)
}
