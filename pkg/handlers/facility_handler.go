package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"

	"github.com/TFMV/plantatlas/pkg/dataset"
	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/models"
	"github.com/TFMV/plantatlas/pkg/services"
)

// SearchRequest selects records whose field equals value.
type SearchRequest struct {
	Field string `schema:"field,required"`
	Value string `schema:"value"`
}

// MapRequest optionally narrows the map to records whose field equals value.
type MapRequest struct {
	Field string `schema:"field"`
	Value string `schema:"value"`
}

// ListResponse is a page of facilities with navigation links.
type ListResponse struct {
	Records []models.Record `json:"records"`
	Info    models.PageInfo `json:"page_info"`
	Links   PageLinks       `json:"links"`
}

// PageLinks are relative URLs for page navigation. Empty links are omitted.
type PageLinks struct {
	Self     string `json:"self"`
	First    string `json:"first,omitempty"`
	Last     string `json:"last,omitempty"`
	Previous string `json:"prev,omitempty"`
	Next     string `json:"next,omitempty"`
}

// RecordsResponse is an unpaged list of facilities.
type RecordsResponse struct {
	Records []models.Record `json:"records"`
	Count   int             `json:"count"`
}

// FacilityHandler serves facility queries.
type FacilityHandler struct {
	service services.FacilityService
	decoder *schema.Decoder
	logger  Logger
	metrics MetricsCollector
}

// NewFacilityHandler creates a new facility handler.
func NewFacilityHandler(service services.FacilityService, logger Logger, metrics MetricsCollector) *FacilityHandler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &FacilityHandler{
		service: service,
		decoder: decoder,
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds the facility routes to r.
func (h *FacilityHandler) Register(r *mux.Router) {
	r.HandleFunc("/", h.Index).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/facilities", h.List).Methods(http.MethodGet)
	api.HandleFunc("/facilities/search", h.Search).Methods(http.MethodGet)
	api.HandleFunc("/facilities/{id}", h.Get).Methods(http.MethodGet)
	api.HandleFunc("/groups/{value}", h.ByGroup).Methods(http.MethodGet)
	api.HandleFunc("/map", h.Map).Methods(http.MethodGet)
}

// Index returns a short banner with the available routes.
func (h *FacilityHandler) Index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "plantatlas",
		"message": "Hello, power plants!",
		"links": map[string]string{
			"facilities": "/api/facilities",
			"facility":   "/api/facilities/{id}",
			"group":      "/api/groups/{value}",
			"search":     "/api/facilities/search?field={field}&value={value}",
			"map":        "/api/map",
		},
	})
}

// List returns one page of facilities.
func (h *FacilityHandler) List(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_list")
	defer timer.Stop()

	var req models.PageRequest
	if err := h.decode(&req, r.URL.Query()); err != nil {
		h.fail(w, r, "list", err)
		return
	}

	page, err := h.service.List(r.Context(), req)
	if err != nil {
		h.fail(w, r, "list", err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Records: page.Records,
		Info:    page.Info,
		Links:   pageLinks(r.URL, page.Info),
	})
}

// Get returns a single facility by id.
func (h *FacilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_get")
	defer timer.Stop()

	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.fail(w, r, "get", errors.Newf(errors.CodeInvalidRequest, "id %q is not an integer", raw).WithDetail("id", raw))
		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ByGroup returns every facility in a group.
func (h *FacilityHandler) ByGroup(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_by_group")
	defer timer.Stop()

	records, err := h.service.ByGroup(r.Context(), mux.Vars(r)["value"])
	if err != nil {
		h.fail(w, r, "by_group", err)
		return
	}

	writeJSON(w, http.StatusOK, RecordsResponse{Records: records, Count: len(records)})
}

// Search returns every facility whose field equals value.
func (h *FacilityHandler) Search(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_search")
	defer timer.Stop()

	var req SearchRequest
	if err := h.decode(&req, r.URL.Query()); err != nil {
		h.fail(w, r, "search", err)
		return
	}

	records, err := h.service.ByField(r.Context(), req.Field, req.Value)
	if err != nil {
		h.fail(w, r, "search", err)
		return
	}

	writeJSON(w, http.StatusOK, RecordsResponse{Records: records, Count: len(records)})
}

// Map returns facility coordinates as a GeoJSON FeatureCollection.
func (h *FacilityHandler) Map(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartTimer("handler_map")
	defer timer.Stop()

	var req MapRequest
	if err := h.decode(&req, r.URL.Query()); err != nil {
		h.fail(w, r, "map", err)
		return
	}

	points, err := h.service.Points(r.Context(), req.Field, req.Value)
	if err != nil {
		h.fail(w, r, "map", err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	writeJSON(w, http.StatusOK, NewFeatureCollection(points))
}

// Health loads the record set, or hits the cache, and reports its size.
func (h *FacilityHandler) Health(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.logger.Warn("Health check failed", "error", err)
		writeJSON(w, StatusFor(err), map[string]interface{}{
			"status": "unavailable",
			"code":   errors.GetCode(err),
			"error":  publicMessage(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"records":   set.Len(),
		"loaded_at": set.LoadedAt,
	})
}

func (h *FacilityHandler) decode(dst interface{}, query url.Values) error {
	if err := h.decoder.Decode(dst, query); err != nil {
		return errors.Wrap(err, errors.CodeInvalidRequest, "invalid query parameters")
	}
	return nil
}

func (h *FacilityHandler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := StatusFor(err)
	h.metrics.IncrementCounter("handler_errors", "operation", operation, "code", errors.GetCode(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", operation, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("Request rejected", "operation", operation, "path", r.URL.Path, "error", err)
	}
	WriteError(w, err)
}

// pageLinks builds navigation links that keep every other query parameter.
func pageLinks(u *url.URL, info models.PageInfo) PageLinks {
	link := func(page int) string {
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(info.PageSize))
		return u.Path + "?" + q.Encode()
	}

	links := PageLinks{Self: link(info.PageNumber)}
	if info.TotalPages == 0 {
		return links
	}
	links.First = link(1)
	links.Last = link(info.TotalPages)
	if info.HasPrevious() {
		links.Previous = link(info.Previous())
	}
	if info.HasNext() {
		links.Next = link(info.Next())
	}
	return links
}

// FeatureCollection is a GeoJSON feature collection of facility points.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a GeoJSON point feature.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// Geometry is a GeoJSON point; coordinates are [longitude, latitude].
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewFeatureCollection converts map points to GeoJSON.
func NewFeatureCollection(points []dataset.Point) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, len(points))}
	for i, p := range points {
		fc.Features[i] = Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: [2]float64{p.Location.Longitude, p.Location.Latitude},
			},
			Properties: map[string]interface{}{
				"id":       p.ID,
				"name":     p.Name,
				"category": p.Category,
			},
		}
	}
	return fc
}
