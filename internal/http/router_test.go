package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/advisor"
	"github.com/flowsentry/flowsentry/internal/classify"
	classifymem "github.com/flowsentry/flowsentry/internal/classify/memstore"
	"github.com/flowsentry/flowsentry/internal/execute"
	"github.com/flowsentry/flowsentry/internal/forecast"
	httptransport "github.com/flowsentry/flowsentry/internal/http"
	actionhttp "github.com/flowsentry/flowsentry/internal/http/action"
	advisoryhttp "github.com/flowsentry/flowsentry/internal/http/advisory"
	"github.com/flowsentry/flowsentry/internal/http/auth"
	classifyhttp "github.com/flowsentry/flowsentry/internal/http/classify"
	importhttp "github.com/flowsentry/flowsentry/internal/http/importcsv"
	recordhttp "github.com/flowsentry/flowsentry/internal/http/record"
	tenanthttp "github.com/flowsentry/flowsentry/internal/http/tenant"
	webhookhttp "github.com/flowsentry/flowsentry/internal/http/webhook"
	"github.com/flowsentry/flowsentry/internal/impact"
	"github.com/flowsentry/flowsentry/internal/importer"
	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/proposal"
	"github.com/flowsentry/flowsentry/internal/record"
	recordmem "github.com/flowsentry/flowsentry/internal/record/memstore"
	"github.com/flowsentry/flowsentry/internal/report"
	"github.com/flowsentry/flowsentry/internal/risk"
	riskmem "github.com/flowsentry/flowsentry/internal/risk/memstore"
	"github.com/flowsentry/flowsentry/internal/schedule"
	schedmem "github.com/flowsentry/flowsentry/internal/schedule/memstore"
	"github.com/flowsentry/flowsentry/internal/task"
	taskmem "github.com/flowsentry/flowsentry/internal/task/memstore"
	"github.com/flowsentry/flowsentry/internal/tenant"
	tenantmem "github.com/flowsentry/flowsentry/internal/tenant/memstore"
)

// env is the full API stack on in-memory stores behind a test server.
type env struct {
	ts      *httptest.Server
	tenants *tenant.Service
	records *record.Service
	orch    *task.Orchestrator
}

func newEnv(t *testing.T, jwtSecret string) *env {
	t.Helper()

	tenantSvc := tenant.NewService(tenantmem.New())
	recordSvc := record.NewService(recordmem.New())
	classifySvc := classify.NewService(classifymem.New())
	risks := riskmem.New()

	gateway := notify.NewLogGateway()

	registry := task.NewRegistry()
	registry.Register(execute.NewPayment(tenantSvc, gateway))
	registry.Register(execute.NewReminder(tenantSvc, gateway))
	registry.Register(execute.NewReorder(tenantSvc, gateway))

	orch := task.NewOrchestrator(task.OrchestratorParams{
		Repo:                taskmem.New(),
		Tenants:             tenantSvc,
		Gateway:             gateway,
		Registry:            registry,
		TTL:                 72 * time.Hour,
		MaxDeliveryAttempts: 5,
	})

	adv := advisor.New(advisor.Params{
		Forecaster: forecast.NewProjector(recordSvc, 60, 14, 7),
		Records:    recordSvc,
		Detector:   risk.NewDetector(risks, 0.2),
		Engine:     proposal.NewEngine(proposal.NewStatic(nil), orch, risks),
		Simulator:  impact.NewSimulator(14),
		Tasks:      orch,
	})

	sched := schedule.New(schedule.Params{
		Tenants: tenantSvc,
		Advisor: adv,
		Reports: report.NewService(recordSvc, orch, gateway),
		Runs:    schedmem.New(),
	})

	router := httptransport.New(
		jwtSecret,
		recordhttp.NewHandler(recordSvc),
		importhttp.NewHandler(importer.NewService(), recordSvc, classifySvc),
		actionhttp.NewHandler(orch),
		advisoryhttp.NewHandler(sched),
		tenanthttp.NewHandler(tenantSvc),
		classifyhttp.NewHandler(classifySvc),
		webhookhttp.NewHandler(orch, recordSvc, classifySvc),
	)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &env{ts: ts, tenants: tenantSvc, records: recordSvc, orch: orch}
}

func (e *env) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader

	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)

		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res.StatusCode, respBody
}

func (e *env) addTenant(t *testing.T, name string) *tenant.Tenant {
	t.Helper()

	tn, err := e.tenants.Create(context.Background(), tenant.CreateParams{
		Name:           name,
		ChannelAddress: "+919000000001",
		Timezone:       "Asia/Kolkata",
	})
	require.NoError(t, err)

	return tn
}

// sentTask walks one task through propose, simulate and send so webhook and
// confirm flows have something to act on.
func (e *env) sentTask(t *testing.T, tenantID uuid.UUID) *task.Task {
	t.Helper()

	ctx := context.Background()

	created, fresh, err := e.orch.Propose(ctx, task.ProposeParams{
		TenantID: tenantID,
		Kind:     task.KindReminder,
		Title:    "Remind Patel Kirana about 8000.00 due",
		Payload: task.Payload{
			Counterparty:  "Patel Kirana",
			Amount:        decimal.NewFromInt(8000),
			ExpectedDelta: decimal.NewFromInt(8000),
		},
		OriginRiskEventID: uuid.New(),
	})
	require.NoError(t, err)
	require.True(t, fresh)

	_, err = e.orch.Simulate(ctx, created.ID, func(*task.Task) (*task.ImpactSnapshot, error) {
		return &task.ImpactSnapshot{
			Horizon:      14,
			BaselineNet:  decimal.NewFromInt(-2000),
			ProjectedNet: decimal.NewFromInt(6000),
			ResolvesDip:  true,
			GeneratedAt:  time.Now().UTC(),
		}, nil
	})
	require.NoError(t, err)

	sent, err := e.orch.Send(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StateSent, sent.State)

	return sent
}

func TestRouter_TenantAndRecordFlow(t *testing.T) {
	e := newEnv(t, "")

	st, body := e.do(t, http.MethodPost, "/api/v1/tenants", "", map[string]any{
		"name":            "Chai Point",
		"channel_address": "+919000000001",
		"timezone":        "Asia/Kolkata",
	})
	require.Equal(t, http.StatusCreated, st, "body=%s", body)

	var created struct {
		ID     uuid.UUID `json:"id"`
		Active bool      `json:"active"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.Active)

	st, body = e.do(t, http.MethodGet, "/api/v1/tenants", "", nil)
	require.Equal(t, http.StatusOK, st)

	var tenants []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &tenants))
	assert.Len(t, tenants, 1)

	st, body = e.do(t, http.MethodPost, "/api/v1/records", "", map[string]any{
		"tenant_id":    created.ID,
		"occurred_on":  "2026-03-01T00:00:00Z",
		"direction":    "inflow",
		"amount":       "2500.00",
		"counterparty": "Anita Traders",
		"category":     "sales",
	})
	require.Equal(t, http.StatusCreated, st, "body=%s", body)

	var rec struct {
		ID     uuid.UUID     `json:"id"`
		Source record.Source `json:"source"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, record.SourceAPI, rec.Source)

	st, body = e.do(t, http.MethodGet, "/api/v1/records?tenant_id="+created.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, st)

	var recs []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &recs))
	assert.Len(t, recs, 1)

	st, _ = e.do(t, http.MethodGet, "/api/v1/records/"+rec.ID.String(), "", nil)
	assert.Equal(t, http.StatusOK, st)

	st, _ = e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, st)
}

func TestRouter_ImportAndClassify(t *testing.T) {
	e := newEnv(t, "")
	tn := e.addTenant(t, "Chai Point")

	st, _ := e.do(t, http.MethodPost, "/api/v1/classify", "", map[string]any{
		"tenant_id": tn.ID,
		"pattern":   "swiggy",
		"category":  "food-delivery",
	})
	require.Equal(t, http.StatusCreated, st)

	csv := "Date,Transaction Details,Amount,Status\n" +
		"14/02/2026,Paid to Swiggy Instamart,-349.00,SUCCESS\n" +
		"13/02/2026,Received from Anita Traders,2400.00,SUCCESS\n"

	st, body := e.importCSV(t, tn.ID, csv)
	require.Equal(t, http.StatusCreated, st, "body=%s", body)

	var result struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
		Records  []struct {
			Category string `json:"category"`
			Detail   string `json:"detail"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Skipped)

	categories := map[string]string{}
	for _, r := range result.Records {
		categories[r.Detail] = r.Category
	}

	assert.Equal(t, "food-delivery", categories["Paid to Swiggy Instamart"])
	assert.Empty(t, categories["Received from Anita Traders"])

	// The same statement again books nothing twice.
	st, body = e.importCSV(t, tn.ID, csv)
	require.Equal(t, http.StatusCreated, st)
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 2, result.Skipped)

	st, body = e.do(t, http.MethodGet,
		"/api/v1/classify/suggest?tenant_id="+tn.ID.String()+"&detail=UPI-SWIGGY-992", "", nil)
	require.Equal(t, http.StatusOK, st)

	var suggestion struct {
		Category string `json:"category"`
	}
	require.NoError(t, json.Unmarshal(body, &suggestion))
	assert.Equal(t, "food-delivery", suggestion.Category)
}

func (e *env) importCSV(t *testing.T, tenantID uuid.UUID, csv string) (int, []byte) {
	t.Helper()

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("tenant_id", tenantID.String()))

	fw, err := mw.CreateFormFile("file", "statement.csv")
	require.NoError(t, err)

	_, err = io.Copy(fw, strings.NewReader(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/api/v1/records/import", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res.StatusCode, body
}

func TestRouter_ChatReplyConfirmsAction(t *testing.T) {
	e := newEnv(t, "")
	tn := e.addTenant(t, "Chai Point")
	sent := e.sentTask(t, tn.ID)

	short := strings.Split(sent.ID.String(), "-")[0]

	st, body := e.do(t, http.MethodPost, "/webhooks/chat", "", map[string]any{
		"tenant_id": tn.ID,
		"from":      tn.ChannelAddress,
		"text":      "YES " + short,
	})
	require.Equal(t, http.StatusOK, st, "body=%s", body)

	var resp struct {
		Status   string     `json:"status"`
		ActionID *uuid.UUID `json:"action_id"`
		State    task.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "confirmed", resp.Status)
	require.NotNil(t, resp.ActionID)
	assert.Equal(t, sent.ID, *resp.ActionID)
	assert.Equal(t, task.StateDone, resp.State)

	final, err := e.orch.Get(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeExecuted, final.Outcome)

	st, body = e.do(t, http.MethodGet,
		"/api/v1/actions?tenant_id="+tn.ID.String()+"&open=true", "", nil)
	require.Equal(t, http.StatusOK, st)

	var open []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &open))
	assert.Empty(t, open)
}

func TestRouter_ChatDeclineAndIgnores(t *testing.T) {
	e := newEnv(t, "")
	tn := e.addTenant(t, "Chai Point")
	sent := e.sentTask(t, tn.ID)

	// Free text is acknowledged without touching the task.
	st, body := e.do(t, http.MethodPost, "/webhooks/chat", "", map[string]any{
		"tenant_id": tn.ID,
		"text":      "sold 40 cups of chai today",
	})
	require.Equal(t, http.StatusOK, st)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "ignored", resp.Status)

	// A bare NO resolves against the only sent task.
	st, body = e.do(t, http.MethodPost, "/webhooks/chat", "", map[string]any{
		"tenant_id": tn.ID,
		"text":      "no",
	})
	require.Equal(t, http.StatusOK, st, "body=%s", body)

	var decline struct {
		Status string     `json:"status"`
		State  task.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &decline))
	assert.Equal(t, "declined", decline.Status)
	assert.Equal(t, task.StateExpired, decline.State)

	final, err := e.orch.Get(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeDeclined, final.Outcome)
}

func TestRouter_ChatRecordPayloadAppends(t *testing.T) {
	e := newEnv(t, "")
	tn := e.addTenant(t, "Chai Point")

	st, body := e.do(t, http.MethodPost, "/webhooks/chat", "", map[string]any{
		"tenant_id": tn.ID,
		"record": map[string]any{
			"occurred_on":  "2026-03-02T00:00:00Z",
			"direction":    "outflow",
			"amount":       "1200.00",
			"counterparty": "Sharma Distributors",
			"role":         "vendor",
			"detail":       "milk and sugar restock",
		},
	})
	require.Equal(t, http.StatusCreated, st, "body=%s", body)

	var resp struct {
		Status   string     `json:"status"`
		RecordID *uuid.UUID `json:"record_id"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "recorded", resp.Status)
	require.NotNil(t, resp.RecordID)

	rec, err := e.records.Get(context.Background(), *resp.RecordID)
	require.NoError(t, err)
	assert.Equal(t, record.SourceChat, rec.Source)
	assert.Equal(t, record.DirectionOutflow, rec.Direction)
}

func TestRouter_DeliveryStatusWebhook(t *testing.T) {
	e := newEnv(t, "")
	tn := e.addTenant(t, "Chai Point")
	sent := e.sentTask(t, tn.ID)

	st, _ := e.do(t, http.MethodPost, "/webhooks/delivery-status", "", map[string]any{
		"idempotency_key": "task-" + sent.ID.String(),
		"status":          "failed",
	})
	require.Equal(t, http.StatusNoContent, st)

	updated, err := e.orch.Get(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, sent.DeliveryAttempts+1, updated.DeliveryAttempts)
	assert.Empty(t, updated.ReceiptID)

	// Keys for non-task messages carry no state here.
	st, _ = e.do(t, http.MethodPost, "/webhooks/delivery-status", "", map[string]any{
		"idempotency_key": "report-" + tn.ID.String() + "-2026-W10",
		"status":          "delivered",
	})
	assert.Equal(t, http.StatusNoContent, st)
}

func TestRouter_ForceRuns(t *testing.T) {
	e := newEnv(t, "")
	tn := e.addTenant(t, "Chai Point")

	// No history yet: the advisory cycle runs and finds nothing to do.
	st, body := e.do(t, http.MethodPost, "/api/v1/advisory/run", "", map[string]any{
		"tenant_id": tn.ID,
	})
	assert.Equal(t, http.StatusNoContent, st, "body=%s", body)

	st, body = e.do(t, http.MethodPost, "/api/v1/reports/run", "", map[string]any{
		"tenant_id": tn.ID,
	})
	assert.Equal(t, http.StatusNoContent, st, "body=%s", body)

	st, _ = e.do(t, http.MethodPost, "/api/v1/advisory/run", "", map[string]any{
		"tenant_id": uuid.New(),
	})
	assert.Equal(t, http.StatusNotFound, st)
}

func TestRouter_AuthScopesTenants(t *testing.T) {
	const secret = "test-secret"

	e := newEnv(t, secret)
	chai := e.addTenant(t, "Chai Point")
	other := e.addTenant(t, "Patel Kirana")

	// No token at all.
	st, _ := e.do(t, http.MethodGet, "/api/v1/records?tenant_id="+chai.ID.String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, st)

	chaiToken, err := auth.Token(secret, chai.ID, time.Hour)
	require.NoError(t, err)

	st, _ = e.do(t, http.MethodGet, "/api/v1/records?tenant_id="+chai.ID.String(), chaiToken, nil)
	assert.Equal(t, http.StatusOK, st)

	// A tenant token does not reach into another tenant.
	st, _ = e.do(t, http.MethodGet, "/api/v1/records?tenant_id="+other.ID.String(), chaiToken, nil)
	assert.Equal(t, http.StatusForbidden, st)

	// Nor does it manage the registry.
	st, _ = e.do(t, http.MethodPost, "/api/v1/tenants", chaiToken, map[string]any{
		"name": "Imposter",
	})
	assert.Equal(t, http.StatusForbidden, st)

	operator, err := auth.Token(secret, uuid.Nil, time.Hour)
	require.NoError(t, err)

	st, _ = e.do(t, http.MethodGet, "/api/v1/tenants", operator, nil)
	assert.Equal(t, http.StatusOK, st)

	// Webhooks stay open for the transport.
	st, _ = e.do(t, http.MethodPost, "/webhooks/chat", "", map[string]any{
		"tenant_id": chai.ID,
		"text":      "hello",
	})
	assert.Equal(t, http.StatusOK, st)
}
