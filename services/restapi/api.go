package restapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/importer"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/roster"
	"github.com/trezcool/presensi/services/session"
)

var (
	_ mapping.Backend  = (*Client)(nil)
	_ roster.Backend   = (*Client)(nil)
	_ importer.Backend = (*Client)(nil)
)

type LoginRequest struct {
	Username string `json:"username" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

func (lr *LoginRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	lr.Username = core.CleanString(lr.Username, true)
	return core.ValidateStruct(validate, translator, lr)
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type loginResponse struct {
	tokenPair
	User struct {
		ID       flexID `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"user"`
}

// Login authenticates the operator and starts the session.
func (c *Client) Login(ctx context.Context, validate *validator.Validate, translator ut.Translator, req LoginRequest) (core.Operator, error) {
	if err := req.Validate(validate, translator); err != nil {
		return core.Operator{}, err
	}

	var resp loginResponse
	err := c.do(ctx, request{
		op:     "login",
		method: http.MethodPost,
		path:   "/auth/login",
		body:   req,
		noAuth: true,
	}, &resp)
	if err != nil {
		return core.Operator{}, err
	}

	op := core.Operator{ID: string(resp.User.ID), Username: resp.User.Username, Name: resp.User.Name}
	if op.Username == "" {
		op.Username = req.Username
	}
	if err := c.session.Login(session.Tokens{Access: resp.Access, Refresh: resp.Refresh, Operator: op}); err != nil {
		return core.Operator{}, errors.Wrap(err, "login")
	}
	return op, nil
}

// Logout drops the local credentials; tokens simply expire server side.
func (c *Client) Logout() error {
	return c.session.Logout()
}

// ListSuggestions returns one record per page element. An element that does not
// decode is still returned and fails mapping.RawSuggestion.Normalize, so the store skips it.
func (c *Client) ListSuggestions(ctx context.Context, q mapping.Query) ([]mapping.RawSuggestion, error) {
	v := make(url.Values)
	if q.Status != "" && q.Status != mapping.FilterAll {
		v.Set("status", string(q.Status))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}

	var records []mapping.RawSuggestion
	err := c.do(ctx, request{op: "list suggestions", method: http.MethodGet, path: "/mapping/suggestions", query: v}, &records)
	return records, err
}

func (c *Client) VerifySuggestion(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		op:     "verify suggestion",
		method: http.MethodPost,
		path:   "/mapping/suggestions/" + strconv.FormatInt(id, 10) + "/verify",
	}, nil)
}

func (c *Client) RejectSuggestion(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		op:     "reject suggestion",
		method: http.MethodPost,
		path:   "/mapping/suggestions/" + strconv.FormatInt(id, 10) + "/reject",
	}, nil)
}

func (c *Client) ManualMap(ctx context.Context, req mapping.ManualMapRequest) (mapping.RawSuggestion, error) {
	var raw mapping.RawSuggestion
	err := c.do(ctx, request{op: "manual map", method: http.MethodPost, path: "/mapping/manual", body: req}, &raw)
	return raw, err
}

// AutoMapResult reports a server side auto-map run.
type AutoMapResult struct {
	Suggested int `json:"suggested"`
	Unmatched int `json:"unmatched"`
}

// AutoMap asks the backend to (re)compute suggestions for every unmapped machine user.
func (c *Client) AutoMap(ctx context.Context) (AutoMapResult, error) {
	var res AutoMapResult
	err := c.do(ctx, request{op: "auto map", method: http.MethodPost, path: "/mapping/auto", long: true}, &res)
	return res, err
}

func (c *Client) ListStudents(ctx context.Context, search string) ([]roster.Student, error) {
	v := make(url.Values)
	if search != "" {
		v.Set("search", search)
	}
	var students []roster.Student
	err := c.do(ctx, request{op: "list students", method: http.MethodGet, path: "/students", query: v}, &students)
	return students, err
}

func (c *Client) ImportMasterData(ctx context.Context, req importer.MasterDataRequest) (importer.Summary, error) {
	var sum importer.Summary
	err := c.do(ctx, uploadRequest("import master data", "/import/master-data", req.Upload, nil), &sum)
	return sum, err
}

func (c *Client) ImportMachineUsers(ctx context.Context, req importer.MachineUsersRequest) (importer.Summary, error) {
	var sum importer.Summary
	fields := map[string]string{"machine_code": req.MachineCode}
	err := c.do(ctx, uploadRequest("import machine users", "/import/machine-users", req.Upload, fields), &sum)
	return sum, err
}

func (c *Client) PreviewAttendance(ctx context.Context, req importer.AttendanceRequest) (importer.Preview, error) {
	var pv importer.Preview
	fields := map[string]string{"machine_code": req.MachineCode}
	err := c.do(ctx, uploadRequest("preview attendance", "/import/attendance/preview", req.Upload, fields), &pv)
	return pv, err
}

func (c *Client) ImportAttendance(ctx context.Context, req importer.AttendanceRequest) (importer.Summary, error) {
	var sum importer.Summary
	fields := map[string]string{"machine_code": req.MachineCode}
	if req.Period != "" {
		fields["period"] = req.Period
	}
	err := c.do(ctx, uploadRequest("import attendance", "/import/attendance", req.Upload, fields), &sum)
	return sum, err
}

func uploadRequest(op, path string, up importer.Upload, fields map[string]string) request {
	return request{
		op:     op,
		method: http.MethodPost,
		path:   path,
		fields: fields,
		file:   &filePart{field: "file", filename: up.Filename, data: up.Data},
		long:   true,
	}
}
