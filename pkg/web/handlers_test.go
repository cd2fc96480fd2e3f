package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dukex/checkinhub/pkg/flow"
	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/notify"
	"github.com/dukex/checkinhub/pkg/persistence/file"
	"github.com/dukex/checkinhub/pkg/scheduler"
	"github.com/dukex/checkinhub/pkg/services"
	"github.com/dukex/checkinhub/pkg/vault"
	"github.com/dukex/checkinhub/pkg/web"
	"github.com/dukex/checkinhub/pkg/worker"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "admin-secret"

type testEnv struct {
	app       *fiber.App
	vault     *vault.Vault
	scheduler *scheduler.Service
	target    *httptest.Server
	checkins  atomic.Int32
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{}

	env.target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.Header.Get("Authorization") != "Bearer site-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"unauthorized"}`))

			return
		}

		env.checkins.Add(1)
		_, _ = w.Write([]byte(`{"code":0,"message":"ok"}`))
	}))
	t.Cleanup(env.target.Close)

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(webhook.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())
	env.vault = vault.New("test-passphrase")

	engine := flow.NewEngine(env.vault, logger)
	runner := worker.NewWorker(store, engine, nil, logger)
	env.scheduler = scheduler.NewService(store, runner, logger)
	t.Cleanup(env.scheduler.Stop)

	notifier := notify.NewNotifier(webhook.URL, logger)
	siteService := services.NewSite(store, env.scheduler, env.vault, logger)

	handlers := web.NewAPIHandlers(
		siteService,
		runner,
		env.scheduler,
		store,
		notifier,
		env.vault,
		validator.New(validator.WithRequiredStructEnabled()),
		"test",
	)

	env.app = fiber.New()
	api := env.app.Group("/api", web.RequireAdminToken(adminToken))
	handlers.Register(api)

	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+adminToken)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return env.send(t, req)
}

func (env *testEnv) send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := env.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func (env *testEnv) createSite(t *testing.T) *models.Site {
	t.Helper()

	resp, body := env.do(t, http.MethodPost, "/api/sites", map[string]any{
		"name": "Example",
		"auth": map[string]any{"type": "bearer", "token": "site-token"},
		"flow": []map[string]any{{
			"name":    "checkin",
			"method":  "POST",
			"url":     env.target.URL + "/checkin",
			"headers": map[string]string{"Authorization": "Bearer ${token}"},
			"expect":  map[string]any{"path": "code", "equals": 0},
		}},
		"schedule": map[string]any{"type": "dailyAfter", "hour": 8, "minute": 0},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var site models.Site
	require.NoError(t, json.Unmarshal(body, &site))

	return &site
}

func decodeProblem(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	return problem
}

func TestAPI_RequiresAdminToken(t *testing.T) {
	env := setupTestApp(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic " + adminToken},
		{"wrong token", "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, body := env.send(t, req)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "unauthorized", decodeProblem(t, body)["type"])
		})
	}
}

func TestAPI_CreateSite(t *testing.T) {
	env := setupTestApp(t)

	site := env.createSite(t)

	assert.NotEmpty(t, site.ID)
	assert.Equal(t, "Example", site.Name)
	assert.True(t, site.Enabled)
	assert.Empty(t, site.Auth.Token)
	require.NotNil(t, site.Auth.Encrypted)
	assert.NotNil(t, site.NextRunAt)

	token, err := env.vault.Decrypt(site.Auth.Encrypted.Ciphertext, site.Auth.Encrypted.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "site-token", token)

	resp, body := env.do(t, http.MethodGet, "/api/sites", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "site-token")

	var sites []models.Site
	require.NoError(t, json.Unmarshal(body, &sites))
	require.Len(t, sites, 1)
	assert.Equal(t, site.ID, sites[0].ID)

	resp, body = env.do(t, http.MethodGet, "/api/sites/"+site.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "site-token")
}

func TestAPI_CreateSiteValidation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing name", map[string]any{"enabled": true}},
		{"bad base url", map[string]any{"name": "x", "base_url": "not a url"}},
		{"flow is not a list", map[string]any{"name": "x", "flow": map[string]any{"name": "a"}}},
		{"bad schedule", map[string]any{"name": "x", "schedule": map[string]any{"type": "cron", "cron": "every day"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestApp(t)

			resp, body := env.do(t, http.MethodPost, "/api/sites", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
			assert.Equal(t, "validation_error", decodeProblem(t, body)["type"])
		})
	}
}

func TestAPI_CreateSiteInvalidJSON(t *testing.T) {
	env := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sites", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Content-Type", "application/json")

	resp, _ := env.send(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SiteNotFound(t *testing.T) {
	env := setupTestApp(t)
	id := "8a0c7d2e-0000-4000-8000-000000000000"

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/sites/" + id},
		{http.MethodPut, "/api/sites/" + id},
		{http.MethodDelete, "/api/sites/" + id},
		{http.MethodPost, "/api/sites/" + id + "/pause"},
		{http.MethodPost, "/api/sites/" + id + "/resume"},
		{http.MethodGet, "/api/sites/" + id + "/runs"},
	} {
		t.Run(req.method+" "+req.path, func(t *testing.T) {
			var body any
			if req.method == http.MethodPut {
				body = map[string]any{}
			}

			resp, data := env.do(t, req.method, req.path, body)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, "site_not_found", decodeProblem(t, data)["type"])
		})
	}

	resp, _ := env.do(t, http.MethodPost, "/api/sites/"+id+"/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data := env.do(t, http.MethodGet, "/api/runs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "run_not_found", decodeProblem(t, data)["type"])
}

func TestAPI_UpdateSite(t *testing.T) {
	env := setupTestApp(t)
	site := env.createSite(t)

	resp, body := env.do(t, http.MethodPut, "/api/sites/"+site.ID, map[string]any{
		"name":     "Renamed",
		"schedule": map[string]any{"type": "cron", "cron": "30 6 * * *"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var updated models.Site
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, models.ScheduleTypeCron, updated.Schedule.Type)
	assert.Equal(t, site.Auth.Encrypted, updated.Auth.Encrypted)
	assert.Len(t, updated.Flow, 1)

	jobs := env.scheduler.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, scheduler.KindCron, jobs[0].Kind)

	resp, body = env.do(t, http.MethodPut, "/api/sites/"+site.ID, map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Empty(t, env.scheduler.Jobs())
}

func TestAPI_RunSite(t *testing.T) {
	env := setupTestApp(t)
	site := env.createSite(t)

	resp, body := env.do(t, http.MethodPost, "/api/sites/"+site.ID+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var outcome models.RunOutcome
	require.NoError(t, json.Unmarshal(body, &outcome))
	assert.Equal(t, models.OutcomeSuccess, outcome.Status)
	assert.Equal(t, models.RunStatusSuccess, outcome.RunStatus)
	assert.Equal(t, int32(1), env.checkins.Load())

	resp, body = env.do(t, http.MethodGet, "/api/runs/"+outcome.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run models.Run
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.TriggerManual, run.Trigger)
	assert.Equal(t, flow.SummaryAllSucceeded, run.Summary)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, http.StatusOK, run.Steps[0].StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/sites/"+site.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []models.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, outcome.RunID, runs[0].ID)

	resp, body = env.do(t, http.MethodGet, "/api/system/runs/recent?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recent struct {
		Runs []web.RecentRunResponse `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(body, &recent))
	require.Len(t, recent.Runs, 1)
	assert.Equal(t, "Example", recent.Runs[0].SiteName)
	assert.Equal(t, models.RunStatusSuccess, recent.Runs[0].Status)
}

func TestAPI_RunPausedSiteIsSkipped(t *testing.T) {
	env := setupTestApp(t)
	site := env.createSite(t)

	resp, _ := env.do(t, http.MethodPost, "/api/sites/"+site.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/sites/"+site.ID+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var outcome models.RunOutcome
	require.NoError(t, json.Unmarshal(body, &outcome))
	assert.Equal(t, models.OutcomeSkipped, outcome.Status)
	assert.Equal(t, worker.MessageSiteInactive, outcome.Message)
	assert.Zero(t, env.checkins.Load())
}

func TestAPI_PauseResume(t *testing.T) {
	env := setupTestApp(t)
	site := env.createSite(t)
	require.Len(t, env.scheduler.Jobs(), 1)

	resp, body := env.do(t, http.MethodPost, "/api/sites/"+site.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var paused models.Site
	require.NoError(t, json.Unmarshal(body, &paused))
	assert.True(t, paused.Paused)
	assert.Empty(t, env.scheduler.Jobs())

	resp, body = env.do(t, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status web.StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, web.SiteCounts{Total: 1, Enabled: 0, Paused: 1}, status.Sites)
	assert.Equal(t, 0, status.Scheduler.JobCount)
	assert.True(t, status.Config.WebhookConfigured)
	assert.Equal(t, "test", status.Version)

	resp, _ = env.do(t, http.MethodPost, "/api/sites/"+site.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/system/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jobs struct {
		Jobs []scheduler.JobInfo `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(body, &jobs))
	require.Len(t, jobs.Jobs, 1)
	assert.Equal(t, site.ID, jobs.Jobs[0].SiteID)
	assert.Equal(t, "Example", jobs.Jobs[0].SiteName)
}

func TestAPI_DeleteSite(t *testing.T) {
	env := setupTestApp(t)
	site := env.createSite(t)

	resp, _ := env.do(t, http.MethodDelete, "/api/sites/"+site.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, env.scheduler.Jobs())

	resp, _ = env.do(t, http.MethodGet, "/api/sites/"+site.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RecentRunsInvalidLimit(t *testing.T) {
	env := setupTestApp(t)

	for _, limit := range []string{"abc", "0", "-3"} {
		resp, _ := env.do(t, http.MethodGet, "/api/system/runs/recent?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, limit)
	}
}

func TestAPI_TestWebhook(t *testing.T) {
	env := setupTestApp(t)

	resp, body := env.do(t, http.MethodPost, "/api/system/webhook/test", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result notify.TestResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusNoContent, result.StatusCode)
}

const harCapture = `{"log":{"entries":[
  {"request":{"method":"POST","url":"https://example.com/api/checkin","headers":[{"name":"Cookie","value":"sid=1"}],"postData":{"text":"{\"day\":1}"}},"response":{"status":200},"time":10},
  {"request":{"method":"GET","url":"https://example.com/logo.png","headers":[]},"response":{"status":200},"time":1}
]}}`

func TestAPI_ParseHAR(t *testing.T) {
	env := setupTestApp(t)

	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/har/parse", strings.NewReader(harCapture))
		req.Header.Set("Authorization", "Bearer "+adminToken)
		req.Header.Set("Content-Type", "application/json")

		resp, body := env.send(t, req)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), "https://example.com/api/checkin")
		assert.NotContains(t, string(body), "logo.png")
	})

	t.Run("multipart upload", func(t *testing.T) {
		var buf bytes.Buffer

		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", "capture.har")
		require.NoError(t, err)
		_, err = part.Write([]byte(harCapture))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/har/parse", &buf)
		req.Header.Set("Authorization", "Bearer "+adminToken)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, body := env.send(t, req)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var parsed struct {
			Entries []map[string]any `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(body, &parsed))
		require.Len(t, parsed.Entries, 1)
		assert.Equal(t, "POST", parsed.Entries[0]["method"])
	})

	t.Run("invalid document", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/har/parse", strings.NewReader("<html>"))
		req.Header.Set("Authorization", "Bearer "+adminToken)

		resp, _ := env.send(t, req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPI_GenerateFlow(t *testing.T) {
	env := setupTestApp(t)

	resp, body := env.do(t, http.MethodPost, "/api/har/generate-flow", []map[string]any{{
		"url":      "https://example.com/api/checkin",
		"method":   "POST",
		"headers":  map[string]string{"Authorization": "Bearer x", "X-Trace": "1"},
		"postData": `{"day":1}`,
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var generated struct {
		Flow []models.Step `json:"flow"`
	}
	require.NoError(t, json.Unmarshal(body, &generated))
	require.Len(t, generated.Flow, 1)
	assert.Equal(t, "step_1", generated.Flow[0].Name)
	assert.Equal(t, map[string]string{"authorization": "Bearer x"}, generated.Flow[0].Headers)

	resp, _ = env.do(t, http.MethodPost, "/api/har/generate-flow", []map[string]any{{"method": "GET"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Encrypt(t *testing.T) {
	env := setupTestApp(t)

	resp, body := env.do(t, http.MethodPost, "/api/vault/encrypt", web.EncryptRequest{Plaintext: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var secret models.EncryptedSecret
	require.NoError(t, json.Unmarshal(body, &secret))

	plaintext, err := env.vault.Decrypt(secret.Ciphertext, secret.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "hello", plaintext)

	resp, _ = env.do(t, http.MethodPost, "/api/vault/encrypt", web.EncryptRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPublicSite(t *testing.T) {
	site := &models.Site{
		ID:   "1",
		Auth: models.AuthSpec{Type: models.AuthTypeBearer, Token: "plain"},
	}

	public := web.PublicSite(site)

	assert.Empty(t, public.Auth.Token)
	assert.Equal(t, "plain", site.Auth.Token)
}
