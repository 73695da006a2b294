package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// AllocationHandler exposes the allocation engine and ledger over REST.
type AllocationHandler struct {
	engine *placement.Engine
	ledger placement.Ledger
	logger *zap.Logger
}

// NewAllocationHandler creates a new allocation handler.
func NewAllocationHandler(engine *placement.Engine, ledger placement.Ledger, logger *zap.Logger) *AllocationHandler {
	return &AllocationHandler{
		engine: engine,
		ledger: ledger,
		logger: logger.Named("allocations"),
	}
}

// RegisterRoutes registers the allocation routes.
func (h *AllocationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/allocations", h.handleAllocate)
	mux.HandleFunc("GET /api/v1/allocations", h.handleList)
	mux.HandleFunc("GET /api/v1/allocations/{vm_id}", h.handleGet)
}

// AllocateRequest is the body of POST /api/v1/allocations. An empty policy
// selects the configured default.
type AllocateRequest struct {
	VMID   string `json:"vm_id"`
	Policy string `json:"policy,omitempty"`
}

// ListAllocationsResponse is the response of GET /api/v1/allocations.
type ListAllocationsResponse struct {
	Allocations []*domain.Allocation `json:"allocations"`
	Total       int                  `json:"total"`
}

func (h *AllocationHandler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	result, err := h.engine.Allocate(r.Context(), req.VMID, req.Policy)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, result)
}

func (h *AllocationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := domain.AllocationFilter{HostID: r.URL.Query().Get("host_id")}

	allocations, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if allocations == nil {
		allocations = []*domain.Allocation{}
	}

	writeJSON(w, h.logger, http.StatusOK, ListAllocationsResponse{
		Allocations: allocations,
		Total:       len(allocations),
	})
}

func (h *AllocationHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	allocation, err := h.ledger.Get(r.Context(), r.PathValue("vm_id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, allocation)
}
