package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/cuongbtq/soundcron/internal/api/dto"
	"github.com/cuongbtq/soundcron/internal/api/handler"
	"github.com/cuongbtq/soundcron/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrchestrator struct {
	crons      map[string]domain.SoundCron
	addErr     error
	removeErr  error
	listErr    error
	unassigned []string
	owners     map[string]string
	statuses   map[string]*domain.JobStatus
}

func newFakeOrchestrator(crons ...domain.SoundCron) *fakeOrchestrator {
	o := &fakeOrchestrator{
		crons:    make(map[string]domain.SoundCron),
		owners:   make(map[string]string),
		statuses: make(map[string]*domain.JobStatus),
	}
	for _, c := range crons {
		o.crons[c.Key()] = c.Normalize()
	}
	return o
}

func (o *fakeOrchestrator) AddCron(_ context.Context, serverID string, cron domain.SoundCron) error {
	if o.addErr != nil {
		return o.addErr
	}
	cron.ServerID = serverID
	o.crons[cron.Key()] = cron.Normalize()
	return nil
}

func (o *fakeOrchestrator) RemoveCron(_ context.Context, serverID, name string) error {
	if o.removeErr != nil {
		return o.removeErr
	}
	key := domain.JobKey(serverID, name)
	if _, ok := o.crons[key]; !ok {
		return domain.NewOperationError(domain.ReasonNotFound, domain.ErrNotFound)
	}
	delete(o.crons, key)
	return nil
}

func (o *fakeOrchestrator) GetCron(_ context.Context, serverID, name string) (*domain.SoundCron, error) {
	c, ok := o.crons[domain.JobKey(serverID, name)]
	if !ok {
		return nil, domain.NewOperationError(domain.ReasonNotFound, domain.ErrNotFound)
	}
	return &c, nil
}

func (o *fakeOrchestrator) ListCrons(_ context.Context, serverID string) ([]domain.SoundCron, error) {
	var out []domain.SoundCron
	for _, c := range o.crons {
		if c.ServerID == serverID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (o *fakeOrchestrator) ListAllCrons(context.Context) (map[string][]domain.SoundCron, error) {
	if o.listErr != nil {
		return nil, o.listErr
	}
	out := make(map[string][]domain.SoundCron)
	for _, c := range o.crons {
		out[c.ServerID] = append(out[c.ServerID], c)
	}
	return out, nil
}

func (o *fakeOrchestrator) Unassigned(context.Context) ([]string, error) {
	return o.unassigned, nil
}

func (o *fakeOrchestrator) Status(_ context.Context, key string) (string, *domain.JobStatus, error) {
	return o.owners[key], o.statuses[key], nil
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(o *fakeOrchestrator, checks map[string]handler.HealthChecker) *gin.Engine {
	return SetupRouter(&handler.Dependencies{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Orchestrator: o,
		Checks:       checks,
	})
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func soundCron(serverID, name string) domain.SoundCron {
	return domain.SoundCron{
		ServerID:       serverID,
		Name:           name,
		CronExpression: "0 9 * * *",
		AudioRef:       "https://cdn.example.com/bell.mp3",
	}
}

func TestCreateSoundCron(t *testing.T) {
	o := newFakeOrchestrator()
	r := newTestRouter(o, nil)

	w := do(t, r, http.MethodPost, "/api/v1/servers/guild1/soundcrons", dto.CreateSoundCronRequest{
		Name:              "morning",
		Cron:              "0 9 * * *",
		Timezone:          "America/Chicago",
		Audio:             "https://cdn.example.com/bell.mp3",
		Mute:              true,
		ExcludeChannelIDs: []string{"c2", "c1", "c2"},
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var got dto.SoundCronDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "guild1", got.ServerID)
	assert.Equal(t, "America/Chicago", got.Timezone)
	assert.Equal(t, []string{"c1", "c2"}, got.ExcludeChannelIDs)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	_, ok := o.crons["guild1:morning"]
	assert.True(t, ok)
}

func TestCreateSoundCron_Errors(t *testing.T) {
	valid := dto.CreateSoundCronRequest{Name: "morning", Cron: "0 9 * * *", Audio: "bell.mp3"}

	tests := []struct {
		name       string
		body       any
		addErr     error
		wantStatus int
		wantReason string
	}{
		{
			name:       "missing required fields",
			body:       map[string]string{"name": "morning"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid cron",
			body:       valid,
			addErr:     domain.NewOperationError(domain.ReasonInvalidCron, domain.ErrInvalidCron),
			wantStatus: http.StatusBadRequest,
			wantReason: "InvalidCron",
		},
		{
			name:       "duplicate name",
			body:       valid,
			addErr:     domain.NewOperationError(domain.ReasonDuplicateName, domain.ErrDuplicateName),
			wantStatus: http.StatusConflict,
			wantReason: "DuplicateName",
		},
		{
			name:       "queue failure",
			body:       valid,
			addErr:     domain.NewOperationError(domain.ReasonQueue, errors.New("amqp: channel closed")),
			wantStatus: http.StatusServiceUnavailable,
			wantReason: "QueueError",
		},
		{
			name:       "asset failure",
			body:       valid,
			addErr:     domain.NewOperationError(domain.ReasonAsset, errors.New("warehouse 500")),
			wantStatus: http.StatusBadGateway,
			wantReason: "AssetError",
		},
		{
			name:       "storage failure",
			body:       valid,
			addErr:     domain.NewOperationError(domain.ReasonStorage, errors.New("pq: connection refused")),
			wantStatus: http.StatusInternalServerError,
			wantReason: "StorageError",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newFakeOrchestrator()
			o.addErr = tt.addErr
			r := newTestRouter(o, nil)

			w := do(t, r, http.MethodPost, "/api/v1/servers/guild1/soundcrons", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantReason, resp.Reason)
			assert.NotContains(t, w.Body.String(), "pq:")
			assert.NotContains(t, w.Body.String(), "amqp:")
		})
	}
}

func TestGetAndDeleteSoundCron(t *testing.T) {
	o := newFakeOrchestrator(soundCron("guild1", "morning"))
	r := newTestRouter(o, nil)

	w := do(t, r, http.MethodGet, "/api/v1/servers/guild1/soundcrons/morning", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got dto.SoundCronDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "morning", got.Name)
	assert.Equal(t, "UTC", got.Timezone)

	w = do(t, r, http.MethodDelete, "/api/v1/servers/guild1/soundcrons/morning", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodDelete, "/api/v1/servers/guild1/soundcrons/morning", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/servers/guild1/soundcrons/morning", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListServerSoundCrons(t *testing.T) {
	o := newFakeOrchestrator(soundCron("guild1", "b"), soundCron("guild1", "a"), soundCron("guild2", "c"))
	r := newTestRouter(o, nil)

	w := do(t, r, http.MethodGet, "/api/v1/servers/guild1/soundcrons", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListSoundCronsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.SoundCrons, 2)
	assert.Equal(t, "a", resp.SoundCrons[0].Name)
	assert.Equal(t, "b", resp.SoundCrons[1].Name)
}

func TestListSoundCrons_Pagination(t *testing.T) {
	o := newFakeOrchestrator(
		soundCron("guild1", "a"),
		soundCron("guild1", "b"),
		soundCron("guild2", "a"),
	)
	r := newTestRouter(o, nil)

	var keys []string
	path := "/api/v1/soundcrons?page_size=2"
	for pages := 0; pages < 5; pages++ {
		w := do(t, r, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListSoundCronsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, c := range resp.SoundCrons {
			keys = append(keys, domain.JobKey(c.ServerID, c.Name))
		}
		if resp.NextCursor == "" {
			break
		}
		path = "/api/v1/soundcrons?page_size=2&cursor=" + resp.NextCursor
	}

	assert.Equal(t, []string{"guild1:a", "guild1:b", "guild2:a"}, keys)
}

func TestListSoundCrons_Errors(t *testing.T) {
	r := newTestRouter(newFakeOrchestrator(), nil)
	w := do(t, r, http.MethodGet, "/api/v1/soundcrons?cursor=%25%25", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	o := newFakeOrchestrator()
	o.listErr = domain.NewOperationError(domain.ReasonStorage, errors.New("down"))
	r = newTestRouter(o, nil)
	w = do(t, r, http.MethodGet, "/api/v1/soundcrons", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetStatus(t *testing.T) {
	o := newFakeOrchestrator(soundCron("guild1", "morning"))
	o.owners["guild1:morning"] = "worker-a"
	o.statuses["guild1:morning"] = &domain.JobStatus{
		WorkerID: "worker-a",
		Key:      "guild1:morning",
		LastRun:  time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
		RunCount: 3,
	}
	r := newTestRouter(o, nil)

	w := do(t, r, http.MethodGet, "/api/v1/servers/guild1/soundcrons/morning/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.StatusResponse{
		Key:      "guild1:morning",
		Owner:    "worker-a",
		Assigned: true,
		LastRun:  "2026-01-02T15:00:00Z",
		RunCount: 3,
	}, resp)
}

func TestListUnassigned(t *testing.T) {
	o := newFakeOrchestrator()
	r := newTestRouter(o, nil)

	w := do(t, r, http.MethodGet, "/api/v1/soundcrons/unassigned", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"keys":[]}`, w.Body.String())

	o.unassigned = []string{"guild1:morning"}
	w = do(t, r, http.MethodGet, "/api/v1/soundcrons/unassigned", nil)
	assert.JSONEq(t, `{"keys":["guild1:morning"]}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	r := newTestRouter(newFakeOrchestrator(), map[string]handler.HealthChecker{
		"postgres": fakeCheck{},
		"redis":    fakeCheck{},
	})
	w := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	r = newTestRouter(newFakeOrchestrator(), map[string]handler.HealthChecker{
		"postgres": fakeCheck{},
		"redis":    fakeCheck{err: errors.New("dial tcp: refused")},
	})
	w = do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unhealthy"`)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(newFakeOrchestrator(), nil)
	w := do(t, r, http.MethodOptions, "/api/v1/soundcrons", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
