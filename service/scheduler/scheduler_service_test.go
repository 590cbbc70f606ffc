package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-service/client"
	"validator-service/service/extraction"
	"validator-service/service/models"
	"validator-service/service/notifier"
	"validator-service/service/runlock"
	"validator-service/service/storage"
	"validator-service/service/suppression"
	"validator-service/service/validation"
	"validator-service/testutil"
)

type schedulerFixture struct {
	scheduler *SchedulerService
	configs   *storage.ConfigStore
	runs      *storage.RunStore
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db := testutil.NewTestDB()
	t.Cleanup(func() { db.Close() })

	configs := storage.NewConfigStore(db.DB)
	runs := storage.NewRunStore(db.DB)
	fetcher := validation.NewDataFetcher(client.NewHTTPServiceClient(), extraction.NewJSONExtractor(), 5)
	decider := validation.NewAlertDecider(suppression.NewMemoryLedger(), notifier.NewNotifier())
	orchestrator := validation.NewOrchestrator(configs, runs, fetcher,
		validation.NewReconciler(), decider, runlock.NewMemoryRunLock(), nil)

	return &schedulerFixture{
		scheduler: NewSchedulerService(configs, orchestrator),
		configs:   configs,
		runs:      runs,
	}
}

func scheduledConfig(id, serviceURL string) *models.ValidationConfig {
	endpoint := models.ServiceEndpoint{
		ServiceID: "billing",
		Endpoint:  serviceURL,
		AuthConfig: models.AuthConfig{
			AuthType:    models.AuthAPIKey,
			Credentials: map[string]string{"api_key": "test-key"},
		},
	}
	return &models.ValidationConfig{
		ID:             id,
		Name:           "调度测试配置",
		PrimaryService: models.ServiceEndpointDoc(endpoint),
		ValidationRules: models.ValidationRuleList{
			{
				RuleID:         "rule-self",
				SourceService:  "billing",
				ExpectedFields: []models.FieldSpec{{Path: "amount"}},
			},
		},
		IntervalMinutes: 60,
		Enabled:         true,
	}
}

func recordsServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"o-1","amount":10}]`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestReconcileSchedulesRegistersCron(t *testing.T) {
	f := newSchedulerFixture(t)
	cfg := scheduledConfig("cfg-cron", "http://billing.local")
	cfg.ScheduleCron = "0 2 * * *"
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	f.scheduler.reconcileSchedules()

	f.scheduler.mu.Lock()
	registration, ok := f.scheduler.cronEntries["cfg-cron"]
	f.scheduler.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "0 2 * * *", registration.spec)
}

func TestReconcileSchedulesUpdatesChangedCronSpec(t *testing.T) {
	f := newSchedulerFixture(t)
	cfg := scheduledConfig("cfg-cron", "http://billing.local")
	cfg.ScheduleCron = "0 2 * * *"
	require.NoError(t, f.configs.Create(context.Background(), cfg))
	f.scheduler.reconcileSchedules()

	f.scheduler.mu.Lock()
	oldEntry := f.scheduler.cronEntries["cfg-cron"].entryID
	f.scheduler.mu.Unlock()

	// 表达式变更后重新注册
	cfg.ScheduleCron = "30 3 * * *"
	require.NoError(t, f.configs.Update(context.Background(), cfg))
	f.scheduler.reconcileSchedules()

	f.scheduler.mu.Lock()
	registration := f.scheduler.cronEntries["cfg-cron"]
	f.scheduler.mu.Unlock()
	assert.Equal(t, "30 3 * * *", registration.spec)
	assert.NotEqual(t, oldEntry, registration.entryID)
}

func TestReconcileSchedulesInvalidCronSpec(t *testing.T) {
	f := newSchedulerFixture(t)
	cfg := scheduledConfig("cfg-bad", "http://billing.local")
	cfg.ScheduleCron = "not a cron spec"
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	f.scheduler.reconcileSchedules()

	f.scheduler.mu.Lock()
	_, ok := f.scheduler.cronEntries["cfg-bad"]
	f.scheduler.mu.Unlock()
	assert.False(t, ok)
}

func TestReconcileSchedulesIntervalTrigger(t *testing.T) {
	server := recordsServer(t)
	f := newSchedulerFixture(t)
	cfg := scheduledConfig("cfg-interval", server.URL)
	require.NoError(t, f.configs.Create(context.Background(), cfg))

	f.scheduler.reconcileSchedules()

	// 首次检查即触发一次运行
	assert.Eventually(t, func() bool {
		runs, err := f.runs.ListByConfig(context.Background(), "cfg-interval", 10)
		return err == nil && len(runs) == 1 && runs[0].State.IsTerminal()
	}, 5*time.Second, 50*time.Millisecond)

	// 间隔未到期，再次检查不触发新运行
	f.scheduler.reconcileSchedules()
	time.Sleep(100 * time.Millisecond)
	runs, err := f.runs.ListByConfig(context.Background(), "cfg-interval", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestReconcileSchedulesCleansRemovedConfigs(t *testing.T) {
	f := newSchedulerFixture(t)
	cfg := scheduledConfig("cfg-cron", "http://billing.local")
	cfg.ScheduleCron = "0 2 * * *"
	require.NoError(t, f.configs.Create(context.Background(), cfg))
	f.scheduler.reconcileSchedules()

	// 配置被禁用后注册被清理
	cfg.Enabled = false
	require.NoError(t, f.configs.Update(context.Background(), cfg))
	f.scheduler.reconcileSchedules()

	f.scheduler.mu.Lock()
	_, ok := f.scheduler.cronEntries["cfg-cron"]
	f.scheduler.mu.Unlock()
	assert.False(t, ok)
}

func TestSchedulerStartStop(t *testing.T) {
	f := newSchedulerFixture(t)
	f.scheduler.Start()
	// 重复启动为幂等操作
	f.scheduler.Start()
	f.scheduler.Stop()
	f.scheduler.Stop()
}
