package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/domain/auth"
	"github.com/FACorreiaa/clinic-admin/internal/app/handlers"
	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

var reservedListParams = map[string]bool{
	"page": true, "perPage": true, "sort": true, "order": true, "filter": true,
}

// Authorizer decides what happens to the session after a backend rejection.
type Authorizer interface {
	CheckAuthorization(ctx context.Context, err error) auth.Verdict
}

// UpdateRequest is the body of PUT /api/:resource/:id.
type UpdateRequest struct {
	Data         models.Record `json:"data"`
	PreviousData models.Record `json:"previousData"`
}

// ManyRequest is the body of PUT /api/:resource.
type ManyRequest struct {
	IDs  []any         `json:"ids" binding:"required"`
	Data models.Record `json:"data"`
}

// DeleteRequest is the optional body of DELETE /api/:resource/:id.
type DeleteRequest struct {
	PreviousData models.Record `json:"previousData"`
}

type ResourceHandlers struct {
	*handlers.BaseHandler
	provider DataProvider
	authz    Authorizer
}

func NewResourceHandlers(provider DataProvider, authz Authorizer, logger *zap.Logger) *ResourceHandlers {
	return &ResourceHandlers{
		BaseHandler: handlers.NewBaseHandler(logger),
		provider:    provider,
		authz:       authz,
	}
}

// Register mounts the CRUD routes on a group that already enforces a session.
func (h *ResourceHandlers) Register(g *gin.RouterGroup) {
	g.POST("/payments/:id/sync-booking", h.SyncBooking)
	g.GET("/:resource", h.List)
	g.GET("/:resource/many", h.GetMany)
	g.GET("/:resource/reference/:target/:id", h.GetManyReference)
	g.GET("/:resource/:id", h.GetOne)
	g.POST("/:resource", h.Create)
	g.PUT("/:resource", h.UpdateMany)
	g.PUT("/:resource/:id", h.Update)
	g.DELETE("/:resource", h.DeleteMany)
	g.DELETE("/:resource/:id", h.Delete)
}

func (h *ResourceHandlers) List(c *gin.Context) {
	params, err := listParams(c)
	if err != nil {
		h.RespondError(c, err)
		return
	}
	out, err := h.provider.GetList(c.Request.Context(), c.Param("resource"), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header(totalCountHeader, strconv.FormatInt(out.Total, 10))
	c.JSON(http.StatusOK, out)
}

func (h *ResourceHandlers) GetOne(c *gin.Context) {
	rec, err := h.provider.GetOne(c.Request.Context(), c.Param("resource"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (h *ResourceHandlers) GetMany(c *gin.Context) {
	ids := queryIDs(c)
	if len(ids) == 0 {
		h.RespondError(c, &models.FieldError{Resource: c.Param("resource"), Field: "ids"})
		return
	}
	recs, err := h.provider.GetMany(c.Request.Context(), c.Param("resource"), ids)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": recs})
}

func (h *ResourceHandlers) GetManyReference(c *gin.Context) {
	params, err := listParams(c)
	if err != nil {
		h.RespondError(c, err)
		return
	}
	out, err := h.provider.GetManyReference(c.Request.Context(), c.Param("resource"), c.Param("target"), c.Param("id"), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header(totalCountHeader, strconv.FormatInt(out.Total, 10))
	c.JSON(http.StatusOK, out)
}

func (h *ResourceHandlers) Create(c *gin.Context) {
	data, closeFiles, err := h.recordBody(c)
	if err != nil {
		h.RespondError(c, err)
		return
	}
	defer closeFiles()

	rec, err := h.provider.Create(c.Request.Context(), c.Param("resource"), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": rec})
}

// Update takes {data, previousData} as JSON, or form fields plus an optional
// previousData field holding JSON when files are uploaded.
func (h *ResourceHandlers) Update(c *gin.Context) {
	var req UpdateRequest
	if isMultipart(c) {
		data, closeFiles, err := h.recordBody(c)
		if err != nil {
			h.RespondError(c, err)
			return
		}
		defer closeFiles()
		if raw, ok := data["previousData"].(string); ok {
			if err := json.Unmarshal([]byte(raw), &req.PreviousData); err != nil {
				h.RespondError(c, &models.FieldError{Resource: c.Param("resource"), Field: "previousData", Value: raw})
				return
			}
			delete(data, "previousData")
		}
		req.Data = data
	} else if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondError(c, &models.FieldError{Resource: c.Param("resource"), Field: "data"})
		return
	}
	if req.Data == nil {
		req.Data = models.Record{}
	}

	rec, err := h.provider.Update(c.Request.Context(), c.Param("resource"), models.UpdateParams{
		ID:           c.Param("id"),
		Data:         req.Data,
		PreviousData: req.PreviousData,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (h *ResourceHandlers) UpdateMany(c *gin.Context) {
	var req ManyRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		h.RespondError(c, &models.FieldError{Resource: c.Param("resource"), Field: "ids"})
		return
	}
	ids := make([]string, 0, len(req.IDs))
	for _, id := range req.IDs {
		ids = append(ids, models.FormatID(id))
	}

	out, err := h.provider.UpdateMany(c.Request.Context(), c.Param("resource"), ids, req.Data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *ResourceHandlers) Delete(c *gin.Context) {
	var req DeleteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.RespondError(c, &models.FieldError{Resource: c.Param("resource"), Field: "previousData"})
			return
		}
	}

	rec, err := h.provider.Delete(c.Request.Context(), c.Param("resource"), models.DeleteParams{
		ID:           c.Param("id"),
		PreviousData: req.PreviousData,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (h *ResourceHandlers) DeleteMany(c *gin.Context) {
	ids := queryIDs(c)
	if len(ids) == 0 {
		h.RespondError(c, &models.FieldError{Resource: c.Param("resource"), Field: "ids"})
		return
	}
	out, err := h.provider.DeleteMany(c.Request.Context(), c.Param("resource"), ids)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *ResourceHandlers) SyncBooking(c *gin.Context) {
	rec, err := h.provider.SyncBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// fail lets the session guard react to 401/403 before reporting the error.
// Auth failures surface as session errors, never as the backend's response.
func (h *ResourceHandlers) fail(c *gin.Context, err error) {
	status := models.StatusOf(err)
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		h.RespondError(c, err)
		return
	}

	verdict := auth.VerdictReauthenticate
	if h.authz != nil {
		verdict = h.authz.CheckAuthorization(c.Request.Context(), err)
	}
	h.Logger.Info("Backend rejected the session",
		zap.String("path", c.FullPath()),
		zap.Int("status", status),
		zap.Stringer("verdict", verdict))

	if verdict == auth.VerdictRetry {
		h.RespondError(c, fmt.Errorf("%w: session renewed, retry the request", models.ErrSessionExpired))
		return
	}
	h.RespondError(c, models.ErrSessionExpired)
}

// recordBody reads a JSON object or a multipart form. Uploaded files become
// *models.File values; the returned func closes them.
func (h *ResourceHandlers) recordBody(c *gin.Context) (models.Record, func(), error) {
	noop := func() {}
	if !isMultipart(c) {
		var data models.Record
		if err := c.ShouldBindJSON(&data); err != nil {
			return nil, noop, &models.FieldError{Resource: c.Param("resource"), Field: "body"}
		}
		return data, noop, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, noop, &models.FieldError{Resource: c.Param("resource"), Field: "body"}
	}

	data := models.Record{}
	for key, values := range form.Value {
		if len(values) > 0 {
			data[key] = values[0]
		}
	}

	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for key, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, noop, &models.FieldError{Resource: c.Param("resource"), Field: key}
		}
		opened = append(opened, f)
		data[key] = &models.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     f,
		}
	}
	return data, closeAll, nil
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// listParams reads page, perPage, sort, order and filter. filter is a JSON
// object; any other query parameter is added to it.
func listParams(c *gin.Context) (models.ListParams, error) {
	params := models.ListParams{
		Sort:   models.Sort{Field: c.Query("sort"), Order: c.Query("order")},
		Filter: map[string]any{},
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return params, &models.FieldError{Resource: c.Param("resource"), Field: "page", Value: raw}
		}
		params.Pagination.Page = page
	}
	if raw := c.Query("perPage"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil {
			return params, &models.FieldError{Resource: c.Param("resource"), Field: "perPage", Value: raw}
		}
		params.Pagination.PerPage = perPage
	}
	if raw := c.Query("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.Filter); err != nil {
			return params, &models.FieldError{Resource: c.Param("resource"), Field: "filter", Value: raw}
		}
	}
	for key, values := range c.Request.URL.Query() {
		if reservedListParams[key] || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			params.Filter[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		params.Filter[key] = list
	}
	return params, nil
}

// queryIDs accepts ids=1,2 as well as repeated ids parameters.
func queryIDs(c *gin.Context) []string {
	var ids []string
	for _, raw := range c.QueryArray("ids") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
