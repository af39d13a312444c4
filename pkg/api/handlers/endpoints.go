package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/clustergate/pkg/cluster"
	"github.com/marmos91/clustergate/pkg/endpoint"
)

// EndpointSource is the read side of the client endpoint registry.
type EndpointSource interface {
	List() []endpoint.Endpoint
	Get(id uint64) (endpoint.Endpoint, bool)
}

// Disconnector closes a member connection, which tears down its endpoint
// and bindings.
type Disconnector interface {
	Disconnect(id uint64) bool
}

// BindingSource is the read side of the routing table.
type BindingSource interface {
	List() []cluster.Binding
}

// EndpointsHandler serves /api/v1/endpoints and /api/v1/bindings.
type EndpointsHandler struct {
	endpoints    EndpointSource
	bindings     BindingSource
	disconnector Disconnector
}

// NewEndpointsHandler creates the handler. disconnector may be nil, in which
// case DELETE answers 404.
func NewEndpointsHandler(endpoints EndpointSource, bindings BindingSource, disconnector Disconnector) *EndpointsHandler {
	return &EndpointsHandler{endpoints: endpoints, bindings: bindings, disconnector: disconnector}
}

// List handles GET /api/v1/endpoints. ?authenticated=true|false filters by
// admission state.
func (h *EndpointsHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.endpoints.List()

	filter := r.URL.Query().Get("authenticated")
	if filter == "" {
		writeJSON(w, http.StatusOK, okResponse(all))
		return
	}

	want, err := strconv.ParseBool(filter)
	if err != nil {
		BadRequest(w, "authenticated must be true or false")
		return
	}
	out := make([]endpoint.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Authenticated == want {
			out = append(out, ep)
		}
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// Get handles GET /api/v1/endpoints/{id}.
func (h *EndpointsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := connIDParam(w, r)
	if !ok {
		return
	}
	ep, found := h.endpoints.Get(id)
	if !found {
		NotFound(w, "Endpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(ep))
}

// Disconnect handles DELETE /api/v1/endpoints/{id}.
func (h *EndpointsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := connIDParam(w, r)
	if !ok {
		return
	}
	if h.disconnector == nil || !h.disconnector.Disconnect(id) {
		NotFound(w, "Connection not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bindings handles GET /api/v1/bindings.
func (h *EndpointsHandler) Bindings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse(h.bindings.List()))
}

func connIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(w, "Invalid connection id")
		return 0, false
	}
	return id, true
}
