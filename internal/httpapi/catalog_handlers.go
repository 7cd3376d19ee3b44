package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"combopos/backend/internal/domain"
	"combopos/backend/internal/service"
)

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeHidden := strings.EqualFold(r.URL.Query().Get("include_hidden"), "true")
		products, err := a.service.ListProducts(r.Context(), includeHidden)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			writeServiceError(w, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	segments := pathTail(r.URL.Path, "/api/v1/products/")
	if len(segments) != 1 {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}
	productID := segments[0]

	switch r.Method {
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateProduct(r.Context(), productID, req)
		if err != nil {
			writeServiceError(w, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": updated})
	case http.MethodDelete:
		if !a.requireManagerPIN(w, r, "product") {
			return
		}
		if err := a.service.DeleteProduct(r.Context(), productID); err != nil {
			writeServiceError(w, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": productID})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups, err := a.service.ListGroups(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	case http.MethodPost:
		var req domain.GroupCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.CreateGroup(r.Context(), req)
		if err != nil {
			writeCatalogError(w, err, resp.ProductSync)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleGroupActions serves /combo-groups/{id} and
// /combo-groups/{id}/sub-groups.
func (a *API) handleGroupActions(w http.ResponseWriter, r *http.Request) {
	segments := pathTail(r.URL.Path, "/api/v1/combo-groups/")
	switch {
	case len(segments) == 1:
		a.handleGroup(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "sub-groups":
		a.handleGroupSubGroups(w, r, segments[0])
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown combo group action"))
	}
}

func (a *API) handleGroup(w http.ResponseWriter, r *http.Request, groupID string) {
	switch r.Method {
	case http.MethodGet:
		group, err := a.service.GetGroup(r.Context(), groupID)
		if err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"group": group})
	case http.MethodPatch:
		var req domain.GroupUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.UpdateGroup(r.Context(), groupID, req)
		if err != nil {
			writeCatalogError(w, err, resp.ProductSync)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		if !a.requireManagerPIN(w, r, "group") {
			return
		}
		sync, err := a.service.DeleteGroup(r.Context(), groupID)
		if err != nil {
			writeServiceError(w, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": groupID, "product_sync": sync})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleGroupSubGroups(w http.ResponseWriter, r *http.Request, groupID string) {
	switch r.Method {
	case http.MethodGet:
		subs, err := a.service.ListSubGroups(r.Context(), groupID)
		if err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub_groups": subs})
	case http.MethodPost:
		var req domain.SubGroupCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.CreateSubGroup(r.Context(), groupID, req)
		if err != nil {
			writeCatalogError(w, err, resp.ProductSync)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleSubGroupActions serves /sub-groups/{id} and
// /sub-groups/{id}/components.
func (a *API) handleSubGroupActions(w http.ResponseWriter, r *http.Request) {
	segments := pathTail(r.URL.Path, "/api/v1/sub-groups/")
	switch {
	case len(segments) == 1:
		a.handleSubGroup(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "components":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.ComponentCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		component, err := a.service.AddComponent(r.Context(), segments[0], req)
		if err != nil {
			writeServiceError(w, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"component": component})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown sub-group action"))
	}
}

func (a *API) handleSubGroup(w http.ResponseWriter, r *http.Request, subGroupID string) {
	switch r.Method {
	case http.MethodGet:
		sub, err := a.service.GetSubGroup(r.Context(), subGroupID)
		if err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub_group": sub})
	case http.MethodPatch:
		var req domain.SubGroupUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.UpdateSubGroup(r.Context(), subGroupID, req)
		if err != nil {
			writeCatalogError(w, err, resp.ProductSync)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		if !a.requireManagerPIN(w, r, "sub-group") {
			return
		}
		sync, err := a.service.DeleteSubGroup(r.Context(), subGroupID)
		if err != nil {
			writeServiceError(w, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": subGroupID, "product_sync": sync})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleComponentActions(w http.ResponseWriter, r *http.Request) {
	segments := pathTail(r.URL.Path, "/api/v1/components/")
	if len(segments) != 1 {
		writeError(w, http.StatusBadRequest, errors.New("component id required"))
		return
	}
	componentID := segments[0]

	switch r.Method {
	case http.MethodPatch:
		var req domain.ComponentUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		component, err := a.service.UpdateComponent(r.Context(), componentID, req)
		if err != nil {
			writeServiceError(w, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"component": component})
	case http.MethodDelete:
		if !a.requireManagerPIN(w, r, "component") {
			return
		}
		if err := a.service.DeleteComponent(r.Context(), componentID); err != nil {
			writeServiceError(w, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": componentID})
	default:
		writeMethodNotAllowed(w)
	}
}

// writeCatalogError reports a must_report sync outcome alongside the error;
// other failures go through the usual mapping.
func writeCatalogError(w http.ResponseWriter, err error, sync domain.SyncResult) {
	if errors.Is(err, service.ErrMustReport) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":        service.ErrMustReport.Error(),
			"product_sync": sync,
		})
		return
	}
	writeServiceError(w, err, http.StatusUnprocessableEntity)
}
