package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/metrics"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/provider"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/store"
)

// echoProvider accepts every message except those addressed to reject.
type echoProvider struct {
	reject string
}

func (p *echoProvider) Name() domain.ProviderType { return domain.ProviderSMTP }

func (p *echoProvider) Deliver(_ context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error) {
	if msg.To == p.reject {
		return nil, &provider.DeliveryError{Kind: provider.KindSend, Provider: domain.ProviderSMTP, StatusCode: 550, Err: errors.New("mailbox unavailable")}
	}
	return &domain.DeliveryAck{Provider: domain.ProviderSMTP, MessageID: "<" + msg.ID + "@test>"}, nil
}

type testEnv struct {
	router http.Handler
	store  *store.SQLStore
	locker distlock.Locker
}

func setupTestEnv(t *testing.T, verifyErr error) *testEnv {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{Driver: store.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	locker := distlock.NewLocalLocker()
	runner := campaign.NewRunner(st,
		campaign.WithProviderFactory(func(context.Context, domain.ProviderConfig) (provider.Provider, error) {
			return &echoProvider{reject: "reject@x.com"}, nil
		}),
		campaign.WithLocker(locker, 0),
	)
	providerCfg := domain.ProviderConfig{
		Type:      domain.ProviderSMTP,
		FromEmail: "news@example.com",
		SMTP:      domain.SMTPSettings{Host: "localhost", Port: 2525},
	}
	verify := func(context.Context, domain.ProviderConfig) error { return verifyErr }

	h := NewHandlers(runner, st, providerCfg, verify)
	hc := NewHealthChecker(st, nil, "test")
	router := SetupRoutes(h, hc, RouteOptions{Metrics: metrics.NewRegistry(metrics.DefaultConfig())})
	return &testEnv{router: router, store: st, locker: locker}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func campaignRequest(id string, emails ...string) CreateCampaignRequest {
	req := CreateCampaignRequest{
		CampaignID:    id,
		Template:      domain.Template{Subject: "Hi {name}", TextBody: "Hello {name} from {company}"},
		BaseVariables: map[string]string{"company": "Ignite"},
	}
	for _, e := range emails {
		req.Recipients = append(req.Recipients, domain.Recipient{"email": e, "name": "Pat"})
	}
	return req
}

func TestCreateCampaign(t *testing.T) {
	env := setupTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/campaigns", campaignRequest("spring", "a@x.com", "bad", "reject@x.com"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res domain.CampaignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "spring", res.CampaignID)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Outcomes, 3)
	assert.Contains(t, res.Outcomes[2].Reason, "mailbox unavailable")
}

func TestCreateCampaign_Errors(t *testing.T) {
	env := setupTestEnv(t, nil)

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/campaigns", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty template", func(t *testing.T) {
		body := campaignRequest("x", "a@x.com")
		body.Template = domain.Template{}
		rec := env.do(t, http.MethodPost, "/api/campaigns", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var e httputil.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
		assert.Equal(t, "invalid_run", e.Code)
	})

	t.Run("resume without id", func(t *testing.T) {
		body := campaignRequest("", "a@x.com")
		body.Resume = true
		rec := env.do(t, http.MethodPost, "/api/campaigns", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("locked", func(t *testing.T) {
		l := env.locker.NewLock("busy", 0)
		ok, err := l.Acquire(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		defer l.Release(context.Background())

		rec := env.do(t, http.MethodPost, "/api/campaigns", campaignRequest("busy", "a@x.com"))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestCreateCampaign_BuiltinTemplate(t *testing.T) {
	env := setupTestEnv(t, nil)

	body := CreateCampaignRequest{
		CampaignID:    "intro",
		TemplateName:  "business_intro",
		BaseVariables: map[string]string{"your_company_name": "Ignite"},
		Recipients:    []domain.Recipient{{"email": "teak@x.com", "business_name": "Teak & Co"}},
	}
	rec := env.do(t, http.MethodPost, "/api/campaigns", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res domain.CampaignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Sent)

	body.TemplateName = "missing"
	rec = env.do(t, http.MethodPost, "/api/campaigns", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_template")
}

func TestCreateCampaign_Resume(t *testing.T) {
	env := setupTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/campaigns", campaignRequest("r1", "a@x.com", "reject@x.com"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := campaignRequest("r1", "a@x.com", "reject@x.com", "c@x.com")
	body.Resume = true
	rec = env.do(t, http.MethodPost, "/api/campaigns", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var res domain.CampaignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Total(), "a@x.com was already sent")
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
}

func TestOutcomes(t *testing.T) {
	env := setupTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/campaigns", campaignRequest("c1", "a@x.com", "reject@x.com")).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/campaigns", campaignRequest("c1", "reject@x.com")).Code)

	rec := env.do(t, http.MethodGet, "/api/campaigns/c1/outcomes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Outcomes []domain.DeliveryOutcome `json:"outcomes"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, "a@x.com", all.Outcomes[0].RecipientID)

	rec = env.do(t, http.MethodGet, "/api/campaigns/c1/outcomes?latest=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)

	rec = env.do(t, http.MethodGet, "/api/campaigns/c1/outcomes?page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var paged struct {
		Outcomes   []domain.DeliveryOutcome `json:"outcomes"`
		Count      int                      `json:"count"`
		Pagination PaginationMeta           `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paged))
	assert.Equal(t, 3, paged.Count)
	require.Len(t, paged.Outcomes, 1)
	assert.Equal(t, "reject@x.com", paged.Outcomes[0].RecipientID)
	assert.Equal(t, 2, paged.Pagination.TotalPages)
	assert.False(t, paged.Pagination.HasMore)

	rec = env.do(t, http.MethodGet, "/api/campaigns/c1/outcomes?latest=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/campaigns/missing/outcomes", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportOutcomesCSV(t *testing.T) {
	env := setupTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/campaigns", campaignRequest("c2", "a@x.com", "b@x.com")).Code)

	rec := env.do(t, http.MethodGet, "/api/campaigns/c2/outcomes.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "outcomes_c2.csv")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "campaign_id", rows[0][0])
}

func TestCampaignsAndSummary(t *testing.T) {
	env := setupTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/campaigns", campaignRequest("c3", "a@x.com", "bad")).Code)

	rec := env.do(t, http.MethodGet, "/api/campaigns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Campaigns []domain.CampaignSummary `json:"campaigns"`
		Count     int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "c3", list.Campaigns[0].CampaignID)

	rec = env.do(t, http.MethodGet, "/api/campaigns/c3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum domain.CampaignSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Skipped)

	rec = env.do(t, http.MethodGet, "/api/campaigns/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyProvider(t *testing.T) {
	rec := setupTestEnv(t, nil).do(t, http.MethodPost, "/api/provider/verify", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"provider":"smtp","ok":true}`, rec.Body.String())

	rec = setupTestEnv(t, errors.New("535 authentication failed")).do(t, http.MethodPost, "/api/provider/verify", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "535 authentication failed")
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	assert.Equal(t, "healthy", hs.Status)
	assert.Equal(t, "up", hs.Checks["database"].Status)
	assert.Equal(t, "disabled", hs.Checks["redis"].Status)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/ready", nil).Code)

	env.do(t, http.MethodGet, "/api/campaigns", nil)
	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailer_http_requests_total")
}

func TestHealthRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st, err := store.Open(context.Background(), store.Config{Driver: store.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hc := NewHealthChecker(st, client, "test")
	checks := hc.runAllChecks(context.Background())
	assert.Equal(t, "up", checks["redis"].Status)

	mr.Close()
	checks = hc.runAllChecks(context.Background())
	assert.Equal(t, "down", checks["redis"].Status)
	assert.Equal(t, "degraded", determineOverallStatus(checks))

	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{"database": {Status: "down"}}))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5s", formatUptime(5_000_000_000))
	assert.Equal(t, "1h1m1s", formatUptime(3661_000_000_000))
}
