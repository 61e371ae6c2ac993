package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/menu"
	"github.com/pitabwire/admindash/internal/observability"
	"github.com/pitabwire/admindash/internal/serviceconfig"
	"github.com/pitabwire/admindash/model"
)

const maxConfigBody = 1 << 20

// navigationResponse is the dashboard menu.
type navigationResponse struct {
	Items  []model.MenuItem `json:"items"`
	Groups []menu.Group     `json:"groups"`
}

// servicesResponse lists service configs with the store's load state.
type servicesResponse struct {
	Status   string                      `json:"status"`
	Error    string                      `json:"error,omitempty"`
	Services []model.ParsedServiceConfig `json:"services"`
}

// rawServiceConfigs serves the config list in the same shape the HTTP source
// consumes.
func (h *handlers) rawServiceConfigs(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Store.Raw())
}

func (h *handlers) navigation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestContext(w, r); !ok {
		return
	}
	var items []model.MenuItem
	if h.deps.Menu != nil {
		items = h.deps.Menu.Items()
	} else {
		items = menu.NewBuilder(h.deps.Store).Build()
	}
	visible := menu.Visible(items)
	WriteJSON(w, http.StatusOK, navigationResponse{Items: visible, Groups: menu.Grouped(visible)})
}

func (h *handlers) listServices(w http.ResponseWriter, _ *http.Request) {
	status, err := h.deps.Store.Status()
	resp := servicesResponse{Status: status.String(), Services: h.deps.Store.List()}
	if err != nil {
		resp.Error = err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) getService(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	svc, ok := h.deps.Store.GetServiceConfig(code)
	if !ok {
		WriteNotFound(w, "Service "+code+" not found")
		return
	}
	WriteJSON(w, http.StatusOK, svc)
}

func (h *handlers) createService(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeServiceConfig(w, r)
	if !ok {
		return
	}
	if _, exists := h.deps.Store.GetServiceConfig(cfg.Code); exists {
		WriteError(w, model.NewConflictError("Service "+cfg.Code+" already exists"))
		return
	}
	if !h.persist(w, r, cfg) {
		return
	}
	h.deps.Store.AddServiceConfig(cfg)
	h.audit(r, "service config created", cfg.Code)

	parsed, _ := h.deps.Store.GetServiceConfig(cfg.Code)
	WriteJSON(w, http.StatusCreated, parsed)
}

func (h *handlers) updateService(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, exists := h.deps.Store.GetServiceConfig(code); !exists {
		WriteNotFound(w, "Service "+code+" not found")
		return
	}
	cfg, ok := decodeServiceConfig(w, r)
	if !ok {
		return
	}
	if cfg.Code != "" && cfg.Code != code {
		WriteBadRequest(w, "Service code cannot change")
		return
	}
	cfg.Code = code
	if !h.persist(w, r, cfg) {
		return
	}
	if err := h.deps.Store.UpdateServiceConfig(code, cfg); err != nil {
		writeErr(w, r, err)
		return
	}
	h.audit(r, "service config updated", code)

	parsed, _ := h.deps.Store.GetServiceConfig(code)
	WriteJSON(w, http.StatusOK, parsed)
}

func (h *handlers) deleteService(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, exists := h.deps.Store.GetServiceConfig(code); !exists {
		WriteNotFound(w, "Service "+code+" not found")
		return
	}
	if h.deps.Writer != nil {
		if err := h.deps.Writer.Delete(r.Context(), code); err != nil {
			observability.RequestLogger(r.Context(), h.logger).Error("deleting service config failed",
				zap.String("service", code), zap.Error(err))
			writeErr(w, r, err)
			return
		}
	}
	h.deps.Store.RemoveServiceConfig(code)
	h.audit(r, "service config deleted", code)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) refreshServices(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.RefreshConfigs(r.Context()); err != nil {
		observability.RequestLogger(r.Context(), h.logger).Warn("service config refresh failed", zap.Error(err))
		writeErr(w, r, model.NewBackendUnavailableError())
		return
	}
	h.listServices(w, r)
}

func (h *handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	n := h.deps.Client.Len()
	h.deps.Client.ClearAll()
	if h.deps.Metrics != nil {
		h.deps.Metrics.QueryCacheEntries.Set(0)
	}
	observability.RequestLogger(r.Context(), h.logger).Info("query cache cleared", zap.Int("entries", n))
	WriteJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// persist hands cfg to the configured Writer, if any.
func (h *handlers) persist(w http.ResponseWriter, r *http.Request, cfg model.ServiceConfig) bool {
	if h.deps.Writer == nil {
		return true
	}
	if err := h.deps.Writer.Save(r.Context(), cfg); err != nil {
		observability.RequestLogger(r.Context(), h.logger).Error("saving service config failed",
			zap.String("service", cfg.Code), zap.Error(err))
		writeErr(w, r, err)
		return false
	}
	return true
}

func (h *handlers) audit(r *http.Request, msg, code string) {
	observability.RequestLogger(r.Context(), h.logger).Info(msg, zap.String("service", code))
}

// decodeServiceConfig reads a ServiceConfig body and rejects configs that
// would not parse.
func decodeServiceConfig(w http.ResponseWriter, r *http.Request) (model.ServiceConfig, bool) {
	var cfg model.ServiceConfig
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody))
	if err := dec.Decode(&cfg); err != nil {
		WriteBadRequest(w, "Invalid service config body")
		return cfg, false
	}
	if cfg.Code == "" {
		cfg.Code = chi.URLParam(r, "code")
	}
	if _, err := serviceconfig.Parse(cfg); err != nil {
		msg := err.Error()
		if !errors.Is(err, serviceconfig.ErrInvalidConfig) {
			msg = "Invalid service config"
		}
		WriteBadRequest(w, msg)
		return cfg, false
	}
	return cfg, true
}
