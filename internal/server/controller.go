package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/chat-sync/internal/aggregate"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	pkgmdw "github.com/nguyentranbao-ct/chat-sync/internal/server/middleware"
	"github.com/nguyentranbao-ct/chat-sync/internal/store"
	"github.com/nguyentranbao-ct/chat-sync/internal/usecase"
	"github.com/nguyentranbao-ct/chat-sync/pkg/util"
)

type Controller interface {
	ListEntities(c echo.Context) error
	GetEntity(c echo.Context) error
	ListThreads(c echo.Context) error
	ListPinned(c echo.Context) error
	SubmitMutation(c echo.Context, mut models.Mutation) (*pkgmdw.Response, error)
	Status(c echo.Context) error
	Health(c echo.Context) error
}

type controller struct {
	store       store.Store
	aggregator  aggregate.Aggregator
	syncUsecase usecase.SyncUsecase
}

func NewHandler(st store.Store, agg aggregate.Aggregator, uc usecase.SyncUsecase) Controller {
	return &controller{
		store:       st,
		aggregator:  agg,
		syncUsecase: uc,
	}
}

type listEntitiesRequest struct {
	Resource string `param:"resource" validate:"required"`
	Field    string `query:"field"`
	Value    string `query:"value"`
}

func (h *controller) ListEntities(c echo.Context) error {
	var req listEntitiesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resource, err := models.ParseResourceType(req.Resource)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var entities []models.Entity
	if req.Field != "" {
		entities = h.store.ListWhere(resource, matchField(req.Field, req.Value))
	} else {
		entities = h.store.List(resource)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"items": entities,
		"count": len(entities),
	})
}

func (h *controller) GetEntity(c echo.Context) error {
	resource, err := models.ParseResourceType(c.Param("resource"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ent, ok := h.store.Get(resource, c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "entity not found")
	}

	return c.JSON(http.StatusOK, ent)
}

func (h *controller) ListThreads(c echo.Context) error {
	projectID := c.Param("project_id")
	c.Set("project_id", projectID)

	threads, err := h.aggregator.Threads(c.Request().Context(), projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"threads": threads,
		"count":   len(threads),
	})
}

func (h *controller) ListPinned(c echo.Context) error {
	projectID := c.Param("project_id")
	c.Set("project_id", projectID)

	pinned, err := h.aggregator.Pinned(c.Request().Context(), projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"messages": pinned,
		"count":    len(pinned),
	})
}

func (h *controller) SubmitMutation(c echo.Context, mut models.Mutation) (*pkgmdw.Response, error) {
	ctx := c.Request().Context()
	correlationID, err := h.syncUsecase.Submit(ctx, &mut)
	switch {
	case errors.Is(err, models.ErrAlreadyPending):
		return nil, echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	c.Set("correlation_id", correlationID)

	return &pkgmdw.Response{
		Status:  http.StatusAccepted,
		Success: true,
		Data:    map[string]string{"correlation_id": correlationID},
	}, nil
}

func (h *controller) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.syncUsecase.Status(c.Request().Context()))
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chat-sync",
	})
}

// matchField compares one top-level field of the entity's wire form, so
// filters use the same field names as change-stream channels.
func matchField(field, value string) func(models.Entity) bool {
	return func(ent models.Entity) bool {
		var doc map[string]any
		if err := util.TranscodeJSON(ent, &doc); err != nil {
			return false
		}
		got, ok := doc[field]
		if !ok {
			return false
		}
		return fmt.Sprint(got) == value
	}
}
