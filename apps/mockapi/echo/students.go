package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core/registry"
)

type (
	studentClass struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// studentResponse nests the class the way the school backend does.
	studentResponse struct {
		NIS   string        `json:"nis"`
		Name  string        `json:"name"`
		Class *studentClass `json:"class"`
	}
)

func newStudentResponse(st registry.Student) studentResponse {
	resp := studentResponse{NIS: st.NIS, Name: st.Name}
	if st.ClassID != "" || st.ClassName != "" {
		resp.Class = &studentClass{ID: st.ClassID, Name: st.ClassName}
	}
	return resp
}

func (s *server) registerStudentAPI(g *echo.Group) {
	g.GET("/students", s.queryStudents)
}

func (s *server) queryStudents(ctx echo.Context) error {
	students, err := s.deps.Registry.Students(ctx.Request().Context(), ctx.QueryParam("search"))
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	resp := make([]studentResponse, 0, len(students))
	for _, st := range students {
		resp = append(resp, newStudentResponse(st))
	}
	return ctx.JSON(http.StatusOK, resp)
}
