package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// HostHandler exposes the host registry over REST.
type HostHandler struct {
	registry placement.HostRegistry
	logger   *zap.Logger
}

// NewHostHandler creates a new host handler.
func NewHostHandler(registry placement.HostRegistry, logger *zap.Logger) *HostHandler {
	return &HostHandler{
		registry: registry,
		logger:   logger.Named("hosts"),
	}
}

// RegisterRoutes registers the host routes.
func (h *HostHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/hosts", h.handleList)
	mux.HandleFunc("POST /api/v1/hosts", h.handleRegister)
	mux.HandleFunc("GET /api/v1/hosts/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/v1/hosts/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/hosts/{id}", h.handleDeregister)
}

// RegisterHostRequest is the body of POST /api/v1/hosts.
type RegisterHostRequest struct {
	HostID   string            `json:"host_id"`
	CPUUsage float64           `json:"cpu_usage"`
	RAMUsage float64           `json:"ram_usage"`
	Status   domain.HostStatus `json:"status,omitempty"`
}

// UpdateHostRequest is the body of PUT /api/v1/hosts/{id}.
type UpdateHostRequest struct {
	CPUUsage float64           `json:"cpu_usage"`
	RAMUsage float64           `json:"ram_usage"`
	Status   domain.HostStatus `json:"status"`
}

// ListHostsResponse is the response of GET /api/v1/hosts.
type ListHostsResponse struct {
	Hosts []*domain.Host `json:"hosts"`
	Total int            `json:"total"`
}

func (h *HostHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		hosts []*domain.Host
		err   error
	)
	if r.URL.Query().Get("status") == string(domain.HostStatusActive) {
		hosts, err = h.registry.ActiveHosts(r.Context())
	} else {
		hosts, err = h.registry.List(r.Context())
	}
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if hosts == nil {
		hosts = []*domain.Host{}
	}

	writeJSON(w, h.logger, http.StatusOK, ListHostsResponse{Hosts: hosts, Total: len(hosts)})
}

func (h *HostHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterHostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	status := req.Status
	if status == "" {
		status = domain.HostStatusActive
	}

	host, err := h.registry.Register(r.Context(), &domain.Host{
		ID:       req.HostID,
		CPUUsage: req.CPUUsage,
		RAMUsage: req.RAMUsage,
		Status:   status,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Host registered",
		zap.String("host_id", host.ID),
		zap.Float64("cpu_usage", host.CPUUsage),
		zap.Float64("ram_usage", host.RAMUsage),
		zap.String("status", string(host.Status)),
	)
	writeJSON(w, h.logger, http.StatusCreated, host)
}

func (h *HostHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	host, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, host)
}

func (h *HostHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateHostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	host, err := h.registry.UpdateStatus(r.Context(), r.PathValue("id"), req.CPUUsage, req.RAMUsage, req.Status)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.logger.Debug("Host status updated",
		zap.String("host_id", host.ID),
		zap.Float64("cpu_usage", host.CPUUsage),
		zap.Float64("ram_usage", host.RAMUsage),
		zap.String("status", string(host.Status)),
	)
	writeJSON(w, h.logger, http.StatusOK, host)
}

func (h *HostHandler) handleDeregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Deregister(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.logger.Info("Host deregistered", zap.String("host_id", id))
	w.WriteHeader(http.StatusNoContent)
}
