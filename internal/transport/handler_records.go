package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/field"
	"github.com/pitabwire/admindash/internal/form"
	"github.com/pitabwire/admindash/internal/observability"
	"github.com/pitabwire/admindash/internal/query"
	"github.com/pitabwire/admindash/model"
)

const (
	maxRecordBody = 1 << 20
	maxPageSize   = 500
)

// Query parameters that are not filters.
var listParams = map[string]bool{
	"page":  true,
	"size":  true,
	"sort":  true,
	"order": true,
	"reset": true,
}

// recordsResponse is one page of records with the state it was fetched for.
type recordsResponse struct {
	model.Page
	Filters   map[string]any `json:"filters"`
	Sort      query.Sort     `json:"sort"`
	Stale     bool           `json:"stale"`
	Cached    bool           `json:"cached"`
	Mock      bool           `json:"mock"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// columnsResponse describes the table and detail views of a service.
type columnsResponse struct {
	Columns    []model.ColumnDescriptor `json:"columns"`
	Searchable []string                 `json:"searchable"`
	Detail     []model.FieldDefinition  `json:"detail"`
}

// validateResponse reports field errors without submitting.
type validateResponse struct {
	Valid  bool               `json:"valid"`
	Errors []model.FieldError `json:"errors"`
}

func (h *handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	endpoint := query.ListEndpoint(svc)
	if endpoint == "" {
		WriteNotFound(w, "Service "+svc.Code+" has no list operation")
		return
	}

	cfg := h.deps.Config.Query
	params := r.URL.Query()
	filters := filterParams(params)
	logger := observability.RequestLogger(r.Context(), h.logger)
	opts := query.Options{
		Endpoint:        endpoint,
		InitialPage:     intParam(params, "page", 0),
		InitialPageSize: min(intParam(params, "size", cfg.PageSize), maxPageSize),
		InitialFilters:  filters,
		InitialSort:     query.Sort{By: params.Get("sort"), Order: params.Get("order")},
		IsPaginated:     svc.Features.Pagination,
		UseCache:        true,
		StaleTime:       cfg.StaleTime,
		CacheTime:       cfg.CacheTime,
		Logger:          logger,
	}

	// Filters persist per admin. Explicit filters overwrite the saved set;
	// a bare request restores it.
	persistKey := ""
	if cfg.PersistFilters && h.deps.FilterStore != nil && rctx.SubjectID != "" {
		persistKey = query.PersistKey(endpoint) + ":" + rctx.SubjectID
	}
	reset := params.Get("reset") == "true"
	if persistKey != "" && (len(filters) == 0 || reset) {
		opts.PersistFilters = true
		opts.PersistKey = persistKey
		opts.FilterStore = h.deps.FilterStore
	}

	q, err := query.New(r.Context(), h.deps.Backend, h.deps.Client, opts)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer q.Close()

	switch {
	case reset:
		q.ResetFilters()
	case persistKey != "" && len(filters) > 0:
		if err := h.deps.FilterStore.Save(r.Context(), persistKey, query.CleanFilters(filters)); err != nil {
			logger.Warn("persisting filters failed", zap.Error(err))
		}
	}

	ctx, span := observability.StartRecordSpan(r.Context(), svc.Code, "list",
		observability.AttrQueryKey.String(q.Key()),
	)
	res := q.Fetch(ctx)
	span.SetAttributes(observability.AttrCacheHit.Bool(res.Cached))
	observability.EndSpan(span, res.Err)
	h.recordQuery(svc.Code, res)
	if res.IsError() {
		writeErr(w, r, res.Err)
		return
	}
	WriteJSON(w, http.StatusOK, recordsResponse{
		Page:      res.Page,
		Filters:   query.CleanFilters(q.AppliedFilters()),
		Sort:      q.Sort(),
		Stale:     res.Stale,
		Cached:    res.Cached,
		Mock:      res.Mock,
		FetchedAt: res.FetchedAt,
	})
}

func (h *handlers) recordQuery(code string, res query.Result) {
	if h.deps.Metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case res.IsError():
		outcome = "error"
	case res.Mock:
		outcome = "mock"
	case res.Stale:
		outcome = "stale"
	}
	h.deps.Metrics.RecordQuery(code, outcome)
	h.deps.Metrics.QueryCacheEntries.Set(float64(h.deps.Client.Len()))
}

func (h *handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	rec, err := h.mutations(svc).Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (h *handlers) createRecord(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, model.EndpointCreate, "")
}

func (h *handlers) updateRecord(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, model.EndpointUpdate, chi.URLParam(r, "id"))
}

// submit validates a record body against the service's fields, then its
// OpenAPI schema, and only then hands it to the backend.
func (h *handlers) submit(w http.ResponseWriter, r *http.Request, operation, id string) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	if (operation == model.EndpointCreate && !svc.Features.Create) ||
		(operation == model.EndpointUpdate && !svc.Features.Update) {
		WriteForbidden(w, "Service "+svc.Code+" does not allow "+operation)
		return
	}
	op, ok := svc.Operation(operation)
	if !ok {
		WriteNotFound(w, "Service "+svc.Code+" has no "+operation+" operation")
		return
	}
	values, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	logger := observability.RequestLogger(r.Context(), h.logger)
	opts := []form.Option{
		form.WithPersister(h.mutations(svc)),
		form.WithLogger(logger),
	}
	if id != "" {
		opts = append(opts, form.WithRecordID(id))
	}
	f := form.New(svc.Code, svc.Fields, values, opts...)

	if !f.Validate() {
		h.rejectValidation(w, svc.Code, form.FieldErrors(f.Errors()))
		return
	}
	if idx := h.deps.OpenAPI; idx != nil {
		if errs := idx.ValidateRequest(svc.Code, op.Method, op.Path, f.Values()); len(errs) > 0 {
			details := make([]model.FieldError, 0, len(errs))
			for _, e := range errs {
				details = append(details, model.FieldError{Field: e.Field, Code: "SCHEMA", Message: e.Message})
			}
			h.rejectValidation(w, svc.Code, details)
			return
		}
	}

	logger.Debug("submitting record",
		zap.String("service", svc.Code),
		zap.String("operation", operation),
		zap.Any("body", observability.RedactBody(f.Values(), passwordKeys(svc.Fields))),
	)
	ctx, span := observability.StartRecordSpan(r.Context(), svc.Code, operation,
		observability.AttrRecordID.String(id),
	)
	saved, err := f.Submit(ctx)
	observability.EndSpan(span, err)
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordMutation(svc.Code, operation, err)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if saved == nil {
		saved = f.Values()
	}

	status := http.StatusOK
	if operation == model.EndpointCreate {
		status = http.StatusCreated
	}
	WriteJSON(w, status, saved)
}

func (h *handlers) rejectValidation(w http.ResponseWriter, code string, details []model.FieldError) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordValidationFailure(code)
	}
	WriteValidationError(w, details)
}

func (h *handlers) deleteRecord(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	if !svc.Features.Delete {
		WriteForbidden(w, "Service "+svc.Code+" does not allow delete")
		return
	}
	id := chi.URLParam(r, "id")
	err := h.mutations(svc).Delete(r.Context(), id)
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordMutation(svc.Code, model.EndpointDelete, err)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	observability.RequestLogger(r.Context(), h.logger).Info("record deleted",
		zap.String("service", svc.Code), zap.String("record_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// invokeOperation runs a named operation beyond the standard five, such as
// an endpoint declared as cancelOrder. The record ID comes from ?id=.
func (h *handlers) invokeOperation(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "operation")
	var body map[string]any
	if r.ContentLength != 0 {
		if body, ok = decodeRecord(w, r); !ok {
			return
		}
	}
	out, err := h.mutations(svc).Invoke(r.Context(), name, r.URL.Query().Get("id"), body)
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordMutation(svc.Code, name, err)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// form renders the create form, or the edit form of ?id= seeded with the
// stored record.
func (h *handlers) form(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	base := "/ui/services/" + svc.Code + "/records"
	id := r.URL.Query().Get("id")

	var initial map[string]any
	opts := []form.Option{form.WithLogger(observability.RequestLogger(r.Context(), h.logger))}
	if id != "" {
		rec, err := h.mutations(svc).Get(r.Context(), id)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		initial = rec
		opts = append(opts, form.WithRecordID(id), form.WithSubmitTarget(http.MethodPut, base+"/"+url.PathEscape(id)))
	} else {
		opts = append(opts, form.WithSubmitTarget(http.MethodPost, base))
	}
	WriteJSON(w, http.StatusOK, form.New(svc.Code, svc.Fields, initial, opts...).Render())
}

func (h *handlers) columns(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, columnsResponse{
		Columns:    form.TableColumns(svc.Fields),
		Searchable: form.SearchableKeys(svc.Fields),
		Detail:     form.DetailFields(svc.Fields),
	})
}

// validate checks a body without submitting it. With ?field= only that
// field is checked.
func (h *handlers) validate(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	values, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	if key := r.URL.Query().Get("field"); key != "" {
		for _, fd := range svc.Fields {
			if fd.Key != key {
				continue
			}
			resp := validateResponse{Valid: true, Errors: []model.FieldError{}}
			if msg := field.ValidateField(form.PromoteRequired(fd), values[key], values); msg != "" {
				resp = validateResponse{Errors: form.FieldErrors(map[string]string{key: msg})}
			}
			WriteJSON(w, http.StatusOK, resp)
			return
		}
		WriteNotFound(w, "Field "+key+" not found")
		return
	}

	f := form.New(svc.Code, svc.Fields, values)
	valid := f.Validate()
	if !valid && h.deps.Metrics != nil {
		h.deps.Metrics.RecordValidationFailure(svc.Code)
	}
	WriteJSON(w, http.StatusOK, validateResponse{Valid: valid, Errors: form.FieldErrors(f.Errors())})
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var values map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBody)).Decode(&values); err != nil {
		WriteBadRequest(w, "Request body must be a JSON object")
		return nil, false
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, true
}

// filterParams collects non-reserved query parameters. Repeated parameters
// become lists.
func filterParams(params url.Values) map[string]any {
	out := make(map[string]any)
	for k, vs := range params {
		if listParams[k] || len(vs) == 0 {
			continue
		}
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		out[k] = list
	}
	return query.CleanFilters(out)
}

func intParam(params url.Values, name string, fallback int) int {
	n, err := strconv.Atoi(params.Get(name))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func passwordKeys(fields []model.FieldDefinition) []string {
	var keys []string
	for _, fd := range fields {
		if fd.Type == model.FieldPassword {
			keys = append(keys, fd.Key)
		}
	}
	return keys
}
