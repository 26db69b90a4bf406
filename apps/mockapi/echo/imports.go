package echoapi

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/core/registry"
)

const maxUploadSize = "32M"

var errFileRequired = core.NewValidationError(nil, core.FieldError{Field: "file", Error: "this field is required"})

func (s *server) registerImportAPI(g *echo.Group) {
	ig := g.Group("/import", middleware.BodyLimit(maxUploadSize))
	ig.POST("/master-data", s.importStudents)
	ig.POST("/machine-users", s.importMachineUsers)
	ig.POST("/attendance/preview", s.previewAttendance)
	ig.POST("/attendance", s.importAttendance)
	ig.GET("/batches", s.queryBatches)
}

// bindImport reads the multipart upload: the "file" part plus the machine_code & period fields.
func bindImport(ctx echo.Context) (registry.ImportRequest, error) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return registry.ImportRequest{}, errFileRequired
	}
	f, err := fh.Open()
	if err != nil {
		return registry.ImportRequest{}, errors.Wrap(err, "opening upload")
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return registry.ImportRequest{}, errors.Wrap(err, "reading upload")
	}
	return registry.ImportRequest{
		Filename:    fh.Filename,
		MachineCode: ctx.FormValue("machine_code"),
		Period:      ctx.FormValue("period"),
		Data:        data,
	}, nil
}

type importFunc func(context.Context, registry.ImportRequest) (registry.Batch, error)

func (s *server) runImport(ctx echo.Context, fn importFunc) (registry.Batch, error) {
	req, err := bindImport(ctx)
	if err != nil {
		return registry.Batch{}, err
	}
	batch, err := fn(ctx.Request().Context(), req)
	if err != nil {
		return registry.Batch{}, err
	}
	s.deps.Logger.Info("file imported", "kind", batch.Kind, "filename", batch.Filename, contextOperator(ctx))
	return batch, nil
}

// Handlers

func (s *server) importStudents(ctx echo.Context) error {
	batch, err := s.runImport(ctx, s.deps.Registry.ImportStudents)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"data": batch})
}

func (s *server) importMachineUsers(ctx echo.Context) error {
	batch, err := s.runImport(ctx, s.deps.Registry.ImportMachineUsers)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, batch)
}

func (s *server) importAttendance(ctx echo.Context) error {
	batch, err := s.runImport(ctx, s.deps.Registry.ImportAttendance)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"data": batch})
}

func (s *server) previewAttendance(ctx echo.Context) error {
	req, err := bindImport(ctx)
	if err != nil {
		return err
	}
	pv, err := s.deps.Registry.PreviewAttendance(ctx.Request().Context(), req)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"data": pv})
}

func (s *server) queryBatches(ctx echo.Context) error {
	batches, err := s.deps.Registry.Batches(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying batches")
	}
	return ctx.JSON(http.StatusOK, batches)
}
