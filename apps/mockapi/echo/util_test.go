package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/registry"
	"github.com/trezcool/presensi/services/logger"
	"github.com/trezcool/presensi/storage/database/dummy"
)

const (
	apiPrefix = "/api/v1"

	studentsCSV = "nis;name;class\n" +
		"2024001;Budi Santoso;7A\n" +
		"2024002;Siti Aminah;7A\n" +
		"2024003;Ahmad Fauzi;7B\n"

	machineUsersDAT = "1\tBUDI SANTOSO\tSMP\n" +
		"2\tSITI AMINA\tSMP\n" +
		"3\tXQWV\tSMP\n"
)

type testEnv struct {
	srv  Server
	svc  *registry.Service
	repo registry.Repository
}

func testConfig() *core.Config {
	return &core.Config{
		Env:      "TEST",
		TestMode: true,
		AppName:  "Presensi",
		Backend:  core.BackendConfig{APIPrefix: apiPrefix},
		Server: core.ServerConfig{
			SecretKey:                 "test-secret",
			JWTExpirationDelta:        15 * time.Minute,
			JWTRefreshExpirationDelta: time.Hour,
		},
	}
}

func setup(t *testing.T) testEnv {
	t.Helper()
	repo := dummydb.NewRegistryRepository(dummydb.Open())
	validate, translator := core.NewValidator()
	svc := registry.NewService(repo, logsvc.NewNopLogger(), validate, translator)

	_, err := svc.SaveOperator(context.Background(), registry.NewOperator{Username: "admin", Name: "Admin TU", Password: "secret"})
	require.NoError(t, err)

	srv := NewServer(ServerDeps{
		Conf:           testConfig(),
		Logger:         logsvc.NewNopLogger(),
		Registry:       svc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	return testEnv{srv: srv, svc: svc, repo: repo}
}

// seed imports the roster and the machine users; auto-map runs as part of the second import.
func (env testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := env.svc.ImportStudents(ctx, registry.ImportRequest{Filename: "students.csv", Data: []byte(studentsCSV)})
	require.NoError(t, err)
	_, err = env.svc.ImportMachineUsers(ctx, registry.ImportRequest{Filename: "users.dat", MachineCode: "M1", Data: []byte(machineUsersDAT)})
	require.NoError(t, err)
}

// suggestionOf returns the suggestion of the given machine user.
func (env testEnv) suggestionOf(t *testing.T, machineUserID string) mapping.Suggestion {
	t.Helper()
	list, err := env.svc.Suggestions(context.Background(), "", "")
	require.NoError(t, err)
	for _, sg := range list {
		if sg.MachineUser.ID == machineUserID {
			return sg
		}
	}
	t.Fatalf("no suggestion for machine user %s", machineUserID)
	return mapping.Suggestion{}
}

func (env testEnv) login(t *testing.T) tokenPair {
	t.Helper()
	req, rec := newRequest(http.MethodPost, apiPrefix+"/auth/login", []byte(`{"username": "admin", "password": "secret"}`))
	env.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.tokenPair
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// newUploadRequest builds a multipart request; filename "" sends no file part.
func newUploadRequest(t *testing.T, path, token, filename string, data []byte, fields map[string]string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req, httptest.NewRecorder()
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// decodeBody decodes a JSON object response.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func errBody(msg string) []byte {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}
