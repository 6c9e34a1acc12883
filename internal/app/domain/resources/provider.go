package resources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/clinic-admin/internal/app/domain/transport"
	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

const (
	defaultPage    = 1
	defaultPerPage = 10
	defaultSort    = "id"
	defaultOrder   = "ASC"

	// fanOutLimit bounds the concurrent requests of the *Many operations.
	fanOutLimit = 8

	paymentsResource = "payments"
)

// DataProvider is the CRUD contract the dashboard speaks.
type DataProvider interface {
	GetList(ctx context.Context, resource string, params models.ListParams) (*models.ListResult, error)
	GetOne(ctx context.Context, resource, id string) (models.Record, error)
	GetMany(ctx context.Context, resource string, ids []string) ([]models.Record, error)
	GetManyReference(ctx context.Context, resource, target, id string, params models.ListParams) (*models.ListResult, error)
	Create(ctx context.Context, resource string, data models.Record) (models.Record, error)
	Update(ctx context.Context, resource string, params models.UpdateParams) (models.Record, error)
	UpdateMany(ctx context.Context, resource string, ids []string, data models.Record) ([]string, error)
	Delete(ctx context.Context, resource string, params models.DeleteParams) (models.Record, error)
	DeleteMany(ctx context.Context, resource string, ids []string) ([]string, error)
	SyncBooking(ctx context.Context, id string) (models.Record, error)
}

var _ DataProvider = (*Provider)(nil)

type Provider struct {
	logger     *zap.Logger
	client     transport.Doer
	registry   Registry
	resolver   *Resolver
	translator *Translator
}

// NewProvider expects client to already carry bearer auth and 401 recovery.
func NewProvider(client transport.Doer, registry Registry, logger *zap.Logger) *Provider {
	return &Provider{
		logger:     logger,
		client:     client,
		registry:   registry,
		resolver:   registry.Resolver(),
		translator: NewTranslator(registry),
	}
}

func (p *Provider) GetList(ctx context.Context, resource string, params models.ListParams) (*models.ListResult, error) {
	ctx, span := p.start(ctx, "GetList", resource)
	defer span.End()

	if err := p.validate(resource); err != nil {
		return nil, p.fail(span, err)
	}

	req := &transport.Request{
		Method: http.MethodGet,
		Path:   p.resolver.Resolve(resource, OpList),
		Query:  listQuery(params),
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, p.fail(span, err)
	}
	out, err := DecodeList(resp, true)
	if err != nil {
		return nil, p.fail(span, err)
	}
	span.SetAttributes(attribute.Int64("result.total", out.Total))
	return out, nil
}

func (p *Provider) GetOne(ctx context.Context, resource, id string) (models.Record, error) {
	ctx, span := p.start(ctx, "GetOne", resource)
	defer span.End()

	if err := p.validate(resource); err != nil {
		return nil, p.fail(span, err)
	}

	resp, err := p.client.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   itemPath(p.resolver.Resolve(resource, OpGetOne), id),
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	rec, err := DecodeRecord(resp, id, nil)
	if err != nil {
		return nil, p.fail(span, err)
	}
	return rec, nil
}

// GetMany fetches ids concurrently and keeps the input order.
func (p *Provider) GetMany(ctx context.Context, resource string, ids []string) ([]models.Record, error) {
	ctx, span := p.start(ctx, "GetMany", resource)
	defer span.End()
	span.SetAttributes(attribute.Int("ids", len(ids)))

	out := make([]models.Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := p.GetOne(gctx, resource, id)
			if err != nil {
				return err
			}
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, p.fail(span, err)
	}
	return out, nil
}

// GetManyReference lists records whose target field equals id. The total comes
// from X-Total-Count or the page length.
func (p *Provider) GetManyReference(ctx context.Context, resource, target, id string, params models.ListParams) (*models.ListResult, error) {
	ctx, span := p.start(ctx, "GetManyReference", resource)
	defer span.End()
	span.SetAttributes(attribute.String("target", target))

	if err := p.validate(resource); err != nil {
		return nil, p.fail(span, err)
	}
	if target == "" {
		return nil, p.fail(span, &models.FieldError{Resource: resource, Field: "target", Value: target})
	}

	query := listQuery(params)
	query.Set(target, id)
	resp, err := p.client.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   p.resolver.Resolve(resource, OpList),
		Query:  query,
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	out, err := DecodeList(resp, false)
	if err != nil {
		return nil, p.fail(span, err)
	}
	return out, nil
}

func (p *Provider) Create(ctx context.Context, resource string, data models.Record) (models.Record, error) {
	ctx, span := p.start(ctx, "Create", resource)
	defer span.End()
	l := p.logger.With(zap.String("method", "Create"), zap.String("resource", resource))

	if err := p.validate(resource); err != nil {
		return nil, p.fail(span, err)
	}

	payload, err := p.translator.Encode(resource, data)
	if err != nil {
		l.Debug("Rejected create payload", zap.Error(err))
		return nil, p.fail(span, err)
	}
	resp, err := p.client.Do(ctx, &transport.Request{
		Method:      http.MethodPost,
		Path:        p.resolver.Resolve(resource, OpCreate),
		Body:        payload.Body,
		ContentType: payload.ContentType,
	})
	if err != nil {
		return nil, p.fail(span, err)
	}

	rec, err := DecodeCreated(resp, plain(data))
	if err != nil {
		l.Warn("Create acknowledged without an identifier")
		return nil, p.fail(span, fmt.Errorf("create %s: %w", resource, err))
	}
	id, _ := rec.ID()
	l.Info("Record created", zap.String("id", id))
	return rec, nil
}

// Update routes payment sync actions and status-only changes to their
// dedicated endpoints and sends everything else as a full replace.
func (p *Provider) Update(ctx context.Context, resource string, params models.UpdateParams) (models.Record, error) {
	ctx, span := p.start(ctx, "Update", resource)
	defer span.End()
	l := p.logger.With(zap.String("method", "Update"), zap.String("resource", resource), zap.String("id", params.ID))

	if err := p.validate(resource); err != nil {
		return nil, p.fail(span, err)
	}
	if params.ID == "" {
		return nil, p.fail(span, &models.FieldError{Resource: resource, Field: "id", Value: params.ID})
	}

	s := p.registry.Lookup(resource)
	if s.SyncPath != nil && truthy(params.Data[syncBookingField]) {
		span.SetAttributes(attribute.String("update.route", "sync"))
		rec, err := p.action(ctx, s.SyncPath(params.ID), params.ID, params.PreviousData)
		if err != nil {
			return nil, p.fail(span, err)
		}
		l.Info("Booking synced from payment")
		return rec, nil
	}

	var req *transport.Request
	if s.StatusPath != nil && p.translator.StatusOnly(resource, params.Data, params.PreviousData) {
		span.SetAttributes(attribute.String("update.route", "status"))
		normalized, err := p.translator.Normalize(resource, models.Record{"status": params.Data["status"]})
		if err != nil {
			return nil, p.fail(span, err)
		}
		req, err = transport.NewJSONRequest(http.MethodPut, s.StatusPath(params.ID), map[string]any{"status": normalized["status"]})
		if err != nil {
			return nil, p.fail(span, err)
		}
	} else {
		span.SetAttributes(attribute.String("update.route", "full"))
		payload, err := p.translator.Encode(resource, params.Data)
		if err != nil {
			l.Debug("Rejected update payload", zap.Error(err))
			return nil, p.fail(span, err)
		}
		req = &transport.Request{
			Method:      http.MethodPut,
			Path:        itemPath(p.resolver.Resolve(resource, OpUpdate), params.ID),
			Body:        payload.Body,
			ContentType: payload.ContentType,
		}
	}

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, p.fail(span, err)
	}
	rec := DecodeWriteResult(resp, params.ID, plain(params.Data))
	l.Debug("Record updated", zap.String("path", req.Path))
	return rec, nil
}

func (p *Provider) UpdateMany(ctx context.Context, resource string, ids []string, data models.Record) ([]string, error) {
	ctx, span := p.start(ctx, "UpdateMany", resource)
	defer span.End()

	out, err := p.each(ctx, ids, func(ctx context.Context, id string) (models.Record, error) {
		return p.Update(ctx, resource, models.UpdateParams{
			ID:           id,
			Data:         data,
			PreviousData: models.Record{"id": IDValue(id)},
		})
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	return out, nil
}

// Delete returns the removed record, or the last seen copy when the backend
// only acknowledges.
func (p *Provider) Delete(ctx context.Context, resource string, params models.DeleteParams) (models.Record, error) {
	ctx, span := p.start(ctx, "Delete", resource)
	defer span.End()

	if err := p.validate(resource); err != nil {
		return nil, p.fail(span, err)
	}

	resp, err := p.client.Do(ctx, &transport.Request{
		Method: http.MethodDelete,
		Path:   itemPath(p.resolver.Resolve(resource, OpDelete), params.ID),
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	rec := DecodeWriteResult(resp, params.ID, params.PreviousData)
	p.logger.Info("Record deleted", zap.String("resource", resource), zap.String("id", params.ID))
	return rec, nil
}

func (p *Provider) DeleteMany(ctx context.Context, resource string, ids []string) ([]string, error) {
	ctx, span := p.start(ctx, "DeleteMany", resource)
	defer span.End()

	out, err := p.each(ctx, ids, func(ctx context.Context, id string) (models.Record, error) {
		return p.Delete(ctx, resource, models.DeleteParams{ID: id, PreviousData: models.Record{"id": IDValue(id)}})
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	return out, nil
}

// SyncBooking asks the backend to align a booking with its payment.
func (p *Provider) SyncBooking(ctx context.Context, id string) (models.Record, error) {
	ctx, span := p.start(ctx, "SyncBooking", paymentsResource)
	defer span.End()

	s := p.registry.Lookup(paymentsResource)
	if s.SyncPath == nil {
		return nil, p.fail(span, fmt.Errorf("sync booking: %w", models.ErrUnknownResource))
	}
	rec, err := p.action(ctx, s.SyncPath(id), id, nil)
	if err != nil {
		return nil, p.fail(span, err)
	}
	return rec, nil
}

func (p *Provider) action(ctx context.Context, path, id string, fallback models.Record) (models.Record, error) {
	resp, err := p.client.Do(ctx, &transport.Request{Method: http.MethodPost, Path: path})
	if err != nil {
		return nil, err
	}
	return DecodeWriteResult(resp, id, fallback), nil
}

// each runs fn for every id and returns the ids the backend confirmed, in
// input order.
func (p *Provider) each(ctx context.Context, ids []string, fn func(context.Context, string) (models.Record, error)) ([]string, error) {
	out := make([]string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := fn(gctx, id)
			if err != nil {
				return fmt.Errorf("id %s: %w", id, err)
			}
			out[i] = id
			if confirmed, ok := rec.ID(); ok {
				out[i] = confirmed
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) validate(resource string) error {
	if !p.registry.Valid(resource) {
		return fmt.Errorf("resource %q: %w", resource, models.ErrUnknownResource)
	}
	return nil
}

func (p *Provider) start(ctx context.Context, op, resource string) (context.Context, trace.Span) {
	return otel.Tracer("clinic-admin").Start(ctx, "Provider."+op, trace.WithAttributes(
		attribute.String("resource", resource),
	))
}

func (p *Provider) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func listQuery(params models.ListParams) url.Values {
	page, perPage := params.Pagination.Page, params.Pagination.PerPage
	if page < 1 {
		page = defaultPage
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	field := params.Sort.Field
	if field == "" {
		field = defaultSort
	}
	order := strings.ToUpper(params.Sort.Order)
	if order != "ASC" && order != "DESC" {
		order = defaultOrder
	}

	q := url.Values{}
	q.Set("_sort", field)
	q.Set("_order", order)
	q.Set("_start", strconv.Itoa((page-1)*perPage))
	q.Set("_end", strconv.Itoa(page*perPage))
	for key, v := range params.Filter {
		switch val := v.(type) {
		case nil:
		case []any:
			q.Del(key)
			for _, item := range val {
				if text, ok := scalarText(item); ok {
					q.Add(key, text)
				}
			}
		case []string:
			q[key] = append([]string(nil), val...)
		default:
			if text, ok := scalarText(val); ok {
				q.Set(key, text)
			}
		}
	}
	return q
}

func itemPath(base, id string) string {
	return base + "/" + url.PathEscape(id)
}

// plain drops attachment values so they never leak into returned records.
func plain(data models.Record) models.Record {
	out := make(models.Record, len(data))
	for k, v := range data {
		if _, isFile := v.(*models.File); isFile {
			continue
		}
		if k == syncBookingField {
			continue
		}
		out[k] = v
	}
	return out
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(val)
		return err == nil && b
	}
	return false
}
