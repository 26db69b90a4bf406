package echoapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/mapping"
	"github.com/trezcool/presensi/core/registry"
)

func (s *server) registerMappingAPI(g *echo.Group) {
	mg := g.Group("/mapping")
	mg.GET("/suggestions", s.querySuggestions)
	mg.POST("/suggestions/:id/verify", s.verifySuggestion)
	mg.POST("/suggestions/:id/reject", s.rejectSuggestion)
	mg.POST("/manual", s.manualMap)
	mg.POST("/auto", s.autoMap)
}

// Handlers

func (s *server) querySuggestions(ctx echo.Context) error {
	status := mapping.Status(ctx.QueryParam("status"))
	if status != "" && !status.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: "unknown status " + strconv.Quote(string(status))})
	}

	suggestions, err := s.deps.Registry.Suggestions(ctx.Request().Context(), status, ctx.QueryParam("search"))
	if err != nil {
		return errors.Wrap(err, "querying suggestions")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"data": suggestions})
}

func (s *server) verifySuggestion(ctx echo.Context) error {
	return s.transitionSuggestion(ctx, s.deps.Registry.Verify)
}

func (s *server) rejectSuggestion(ctx echo.Context) error {
	return s.transitionSuggestion(ctx, s.deps.Registry.Reject)
}

func (s *server) transitionSuggestion(ctx echo.Context, action func(context.Context, int64) (mapping.Suggestion, error)) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return registry.ErrLinkNotFound
	}
	sg, err := action(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	s.deps.Logger.Info("suggestion "+string(sg.Status), "id", sg.ID, contextOperator(ctx))
	return ctx.JSON(http.StatusOK, sg)
}

func (s *server) manualMap(ctx echo.Context) error {
	var data mapping.ManualMapRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ManualMapRequest")
	}

	sg, err := s.deps.Registry.ManualMap(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	s.deps.Logger.Info("machine user mapped manually", "machine_user_id", sg.MachineUser.ID, contextOperator(ctx))
	return ctx.JSON(http.StatusCreated, echo.Map{"data": sg})
}

func (s *server) autoMap(ctx echo.Context) error {
	res, err := s.deps.Registry.AutoMap(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "auto-mapping")
	}
	return ctx.JSON(http.StatusOK, res)
}
