package restapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/importer"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/services/session"
)

func newTestClient(t *testing.T, h http.Handler, timeout time.Duration) (*Client, *session.Session) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sess := session.NewMemory()
	require.NoError(t, sess.Login(session.Tokens{Access: "a1", Refresh: "r1", Operator: core.Operator{Username: "admin"}}))

	conf := core.BackendConfig{BaseURL: srv.URL, APIPrefix: "/api/v1", Timeout: timeout, ImportTimeout: timeout}
	return NewClient(conf, sess, nil, WithHTTPClient(srv.Client())), sess
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

func TestDecode(t *testing.T) {
	type obj struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name string
		body string
		want interface{}
		out  func() interface{}
	}{
		{name: "bare object", body: `{"name": "a"}`, out: func() interface{} { return &obj{} }, want: &obj{Name: "a"}},
		{name: "enveloped object", body: `{"data": {"name": "b"}}`, out: func() interface{} { return &obj{} }, want: &obj{Name: "b"}},
		{name: "bare array", body: `[{"name": "c"}]`, out: func() interface{} { return &[]obj{} }, want: &[]obj{{Name: "c"}}},
		{
			name: "enveloped array with meta", body: `{"data": [{"name": "d"}], "meta": {"total": 1}}`,
			out: func() interface{} { return &[]obj{} }, want: &[]obj{{Name: "d"}},
		},
		{name: "empty body", body: ``, out: func() interface{} { return &obj{} }, want: &obj{}},
		{name: "empty object", body: `{}`, out: func() interface{} { return &obj{} }, want: &obj{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.out()
			require.NoError(t, decode([]byte(tt.body), out))
			assert.Equal(t, tt.want, out)
		})
	}

	assert.Error(t, decode([]byte(`{"data": "x"}`), &obj{}))
	assert.NoError(t, decode([]byte(`garbage`), nil), "nil out ignores the body")
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{body: `{"error": "suggestion is not pending"}`, want: "suggestion is not pending"},
		{body: `{"data": {"message": "wrapped"}}`, want: "wrapped"},
		{body: `{"error": {"message": "nested"}}`, want: "nested"},
		{body: `{"detail": "Not found."}`, want: "Not found."},
		{body: `<html>bad gateway</html>`, want: "<html>bad gateway</html>"},
		{body: ``, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorMessage([]byte(tt.body)), tt.body)
	}

	t.Run("long text is cut on a rune boundary", func(t *testing.T) {
		body := "x" + strings.Repeat("é", maxErrorMessage)
		msg := errorMessage([]byte(body))
		assert.True(t, utf8.ValidString(msg), msg)
		assert.True(t, strings.HasSuffix(msg, "..."))
		assert.Equal(t, maxErrorMessage+3, utf8.RuneCountInString(msg))
	})
}

func TestClient_Headers(t *testing.T) {
	var got http.Header
	var gotPath, gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		writeJSON(w, http.StatusOK, `{"data": []}`)
	}), time.Second)

	records, err := client.ListSuggestions(context.Background(), mapping.Query{Status: mapping.FilterPending, Search: "budi"})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, "/api/v1/mapping/suggestions", gotPath)
	assert.Equal(t, "search=budi&status=pending", gotQuery)
	assert.Equal(t, "Bearer a1", got.Get("Authorization"))
	assert.NotEmpty(t, got.Get(headerRequestID))

	_, err = client.ListSuggestions(context.Background(), mapping.Query{Status: mapping.FilterAll})
	require.NoError(t, err)
	assert.Equal(t, "", gotQuery, "all is the default")
}

func TestClient_ListSuggestionsKeepsValidRecords(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data": [
			{"id": 1, "machine_user": {"machine_user_id": "7", "machine_user_name": "Budi"}, "suggested_student": {"nis": "1001", "name": "Budi"}, "confidence_score": 95, "status": "pending"},
			{"id": 2, "machine_user": "7", "status": "pending"},
			{"id": 3, "machine_user": {"machine_user_id": "8", "department": 12}}
		]}`)
	}), time.Second)

	records, err := client.ListSuggestions(context.Background(), mapping.Query{})
	require.NoError(t, err, "a bad record does not fail the page")
	require.Len(t, records, 3)

	store := mapping.NewStore(nil)
	assert.Equal(t, 2, store.Load(records))
	assert.Equal(t, []int64{1}, mapping.IDsOf(store.List()))
}

func TestClient_RefreshOnce(t *testing.T) {
	t.Run("refresh then retry", func(t *testing.T) {
		var refreshes, calls int32
		client, sess := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/v1/auth/refresh":
				atomic.AddInt32(&refreshes, 1)
				var body map[string]string
				_ = json.NewDecoder(r.Body).Decode(&body)
				assert.Equal(t, "r1", body["refresh"])
				assert.Empty(t, r.Header.Get("Authorization"))
				writeJSON(w, http.StatusOK, `{"access": "a2"}`)
			default:
				atomic.AddInt32(&calls, 1)
				if r.Header.Get("Authorization") != "Bearer a2" {
					writeJSON(w, http.StatusUnauthorized, `{"error": "token expired"}`)
					return
				}
				writeJSON(w, http.StatusOK, `{}`)
			}
		}), time.Second)

		require.NoError(t, client.VerifySuggestion(context.Background(), 1))
		assert.Equal(t, int32(1), refreshes)
		assert.Equal(t, int32(2), calls)
		assert.Equal(t, "a2", sess.AccessToken())
		assert.Equal(t, "r1", sess.RefreshToken())
	})

	t.Run("second 401 is not retried again", func(t *testing.T) {
		var refreshes, calls int32
		client, sess := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v1/auth/refresh" {
				atomic.AddInt32(&refreshes, 1)
				writeJSON(w, http.StatusOK, `{"data": {"access": "a2", "refresh": "r2"}}`)
				return
			}
			atomic.AddInt32(&calls, 1)
			writeJSON(w, http.StatusUnauthorized, `{"error": "nope"}`)
		}), time.Second)

		err := client.VerifySuggestion(context.Background(), 1)
		assert.Equal(t, http.StatusUnauthorized, core.StatusCode(err))
		assert.Equal(t, int32(1), refreshes)
		assert.Equal(t, int32(2), calls)
		assert.Equal(t, "r2", sess.RefreshToken())
	})

	t.Run("refresh failure clears the session", func(t *testing.T) {
		var calls int32
		client, sess := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v1/auth/refresh" {
				writeJSON(w, http.StatusUnauthorized, `{"error": "refresh token expired"}`)
				return
			}
			atomic.AddInt32(&calls, 1)
			writeJSON(w, http.StatusUnauthorized, `{"error": "token expired"}`)
		}), time.Second)

		err := client.RejectSuggestion(context.Background(), 3)
		nerr, ok := core.AsNetwork(err)
		require.True(t, ok, "err = %v", err)
		assert.Equal(t, http.StatusUnauthorized, nerr.StatusCode)
		assert.Equal(t, "reject suggestion", nerr.Op, "the original error is propagated")
		assert.Equal(t, "token expired", nerr.Message)
		assert.Equal(t, int32(1), calls)
		assert.False(t, sess.Authenticated())
		assert.Equal(t, "", sess.RefreshToken())
	})

	t.Run("concurrent 401s share one refresh", func(t *testing.T) {
		var refreshes int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v1/auth/refresh" {
				atomic.AddInt32(&refreshes, 1)
				time.Sleep(20 * time.Millisecond)
				writeJSON(w, http.StatusOK, `{"access": "a2"}`)
				return
			}
			if r.Header.Get("Authorization") != "Bearer a2" {
				writeJSON(w, http.StatusUnauthorized, `{}`)
				return
			}
			writeJSON(w, http.StatusOK, `{}`)
		}), time.Second)

		var wg sync.WaitGroup
		for i := int64(1); i <= 4; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				assert.NoError(t, client.VerifySuggestion(context.Background(), id))
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), refreshes)
	})
}

func TestClient_NetworkErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, `{"error": "suggestion is not pending"}`)
		}), time.Second)

		err := client.VerifySuggestion(context.Background(), 1)
		nerr, ok := core.AsNetwork(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, nerr.StatusCode)
		assert.False(t, nerr.Timeout())
		assert.Contains(t, err.Error(), "suggestion is not pending")
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}), 50*time.Millisecond)
		defer close(release)

		_, err := client.ListStudents(context.Background(), "")
		nerr, ok := core.AsNetwork(err)
		require.True(t, ok, "err = %v", err)
		assert.True(t, nerr.Timeout())
		assert.Equal(t, 0, nerr.StatusCode)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		client := NewClient(core.BackendConfig{BaseURL: url, APIPrefix: "/api/v1"}, session.NewMemory(), nil)
		_, err := client.ListStudents(context.Background(), "")
		nerr, ok := core.AsNetwork(err)
		require.True(t, ok, "err = %v", err)
		assert.Equal(t, 0, nerr.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"data": 42}`)
		}), time.Second)
		_, err := client.ListStudents(context.Background(), "")
		assert.True(t, core.IsNetwork(err))
	})
}

func TestClient_Upload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "/api/v1/import/attendance/preview", r.URL.Path)
		assert.Equal(t, "FP-01", r.FormValue("machine_code"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "logs.csv", hdr.Filename)
		assert.True(t, strings.HasPrefix(string(data), "machine_user_id"))

		writeJSON(w, http.StatusOK, `{"total_logs": 2, "total_users": 1, "unmapped_users": 0, "users_not_found": 0, "users": [{"machine_user_id": 7, "logs": 2, "mapped": true}], "errors": []}`)
	}), time.Second)

	pv, err := client.PreviewAttendance(context.Background(), importer.AttendanceRequest{
		Upload:      importer.Upload{Filename: "logs.csv", Data: []byte("machine_user_id,timestamp\n7,2024-07-01 07:00\n")},
		MachineCode: "FP-01",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pv.TotalLogs)
	assert.True(t, pv.Clean())
	assert.Equal(t, "7", pv.Users[0].MachineUserID)
}

func TestClient_Login(t *testing.T) {
	client, sess := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		var body LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Username != "admin" || body.Password != "pwd" {
			writeJSON(w, http.StatusUnauthorized, `{"error": "invalid credentials"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data": {"access": "new-a", "refresh": "new-r", "user": {"id": 1, "username": "admin", "name": "Admin"}}}`)
	}), time.Second)
	validate, translator := core.NewValidator()
	ctx := context.Background()

	_, err := client.Login(ctx, validate, translator, LoginRequest{Username: " ", Password: "pwd"})
	assert.True(t, core.IsValidation(err))

	_, err = client.Login(ctx, validate, translator, LoginRequest{Username: "admin", Password: "bad"})
	assert.Equal(t, http.StatusUnauthorized, core.StatusCode(err))
	assert.Equal(t, "a1", sess.AccessToken(), "a failed login keeps the current session")

	op, err := client.Login(ctx, validate, translator, LoginRequest{Username: " ADMIN ", Password: "pwd"})
	require.NoError(t, err)
	assert.Equal(t, core.Operator{ID: "1", Username: "admin", Name: "Admin"}, op)
	assert.Equal(t, "new-a", sess.AccessToken())
	assert.Equal(t, "new-r", sess.RefreshToken())

	require.NoError(t, client.Logout())
	assert.False(t, sess.Authenticated())
}
