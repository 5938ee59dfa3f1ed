package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/soundcron/internal/api/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api", srv.URL}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAddCmd(t *testing.T) {
	var got dto.CreateSoundCronRequest
	var gotServer string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/servers/{server}/soundcrons", func(w http.ResponseWriter, r *http.Request) {
		gotServer = r.PathValue("server")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, dto.SoundCronDTO{ServerID: gotServer, Name: got.Name})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := run(t, srv, "add", "guild1", "standup",
		"--cron", "0 9 * * 1-5",
		"--timezone", "Europe/Berlin",
		"--audio", "bell.mp3",
		"--exclude", "c1,c2",
	)
	require.NoError(t, err)

	assert.Equal(t, "guild1", gotServer)
	assert.Equal(t, "standup", got.Name)
	assert.Equal(t, "0 9 * * 1-5", got.Cron)
	assert.Equal(t, "Europe/Berlin", got.Timezone)
	assert.Equal(t, []string{"c1", "c2"}, got.ExcludeChannelIDs)
	assert.Contains(t, out, "SoundCron created: guild1:standup")
}

func TestAddCmd_RequiresCron(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := run(t, srv, "add", "guild1", "standup", "--audio", "bell.mp3")
	assert.Error(t, err)
}

func TestCommands_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/servers/{server}/soundcrons", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "SoundCron already exists", Reason: "DuplicateName"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := run(t, srv, "add", "guild1", "standup", "--cron", "* * * * *", "--audio", "a.mp3")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "DuplicateName", apiErr.Reason)
}

func TestRemoveCmd(t *testing.T) {
	var gotName string
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/v1/servers/{server}/soundcrons/{name}", func(w http.ResponseWriter, r *http.Request) {
		gotName = r.PathValue("name")
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := run(t, srv, "rm", "guild1", "daily standup")
	require.NoError(t, err)
	assert.Equal(t, "daily standup", gotName)
	assert.Contains(t, out, "SoundCron removed: guild1:daily standup")
}

func TestListCmd_WalksPages(t *testing.T) {
	var cursors []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/soundcrons", func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)
		assert.Equal(t, "1", r.URL.Query().Get("page_size"))
		if cursor == "" {
			writeJSON(w, http.StatusOK, dto.ListSoundCronsResponse{
				SoundCrons: []dto.SoundCronDTO{{ServerID: "a", Name: "one", Cron: "* * * * *", Timezone: "UTC"}},
				NextCursor: "next",
			})
			return
		}
		writeJSON(w, http.StatusOK, dto.ListSoundCronsResponse{
			SoundCrons: []dto.SoundCronDTO{{ServerID: "b", Name: "two", Cron: "0 * * * *", Timezone: "UTC", Mute: true}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := run(t, srv, "list", "--page-size", "1")
	require.NoError(t, err)

	assert.Equal(t, []string{"", "next"}, cursors)
	assert.Contains(t, out, "a:one")
	assert.Contains(t, out, "b:two")
	assert.Contains(t, out, "muted")
}

func TestListCmd_Server(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/servers/{server}/soundcrons", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dto.ListSoundCronsResponse{SoundCrons: []dto.SoundCronDTO{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := run(t, srv, "list", "--server", "guild1")
	require.NoError(t, err)
	assert.Contains(t, out, "No soundcrons found.")
}

func TestStatusCmd(t *testing.T) {
	tests := []struct {
		name string
		resp dto.StatusResponse
		want string
	}{
		{
			name: "assigned",
			resp: dto.StatusResponse{Key: "guild1:standup", Owner: "w1", Assigned: true, RunCount: 3, LastRun: "2026-01-05T09:00:00Z"},
			want: "guild1:standup | owner=w1 | runs=3 | last_run=2026-01-05T09:00:00Z",
		},
		{
			name: "assigned without runs",
			resp: dto.StatusResponse{Key: "guild1:standup", Owner: "w1", Assigned: true},
			want: "last_run=never",
		},
		{
			name: "unassigned",
			resp: dto.StatusResponse{Key: "guild1:standup"},
			want: "guild1:standup | unassigned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/v1/servers/{server}/soundcrons/{name}/status", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.resp)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			out, err := run(t, srv, "status", "guild1", "standup")
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestUnassignedCmd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/soundcrons/unassigned", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dto.UnassignedResponse{Keys: []string{"a:x", "b:y"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := run(t, srv, "unassigned")
	require.NoError(t, err)
	assert.Equal(t, "a:x\nb:y\n", out)
}

func TestClient_ErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).Get(context.Background(), "guild1", "standup")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway (HTTP 502)", apiErr.Error())
}
