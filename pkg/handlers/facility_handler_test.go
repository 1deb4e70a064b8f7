package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/plantatlas/pkg/dataset"
	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/models"
)

// mockFacilityService implements services.FacilityService
type mockFacilityService struct {
	listFunc     func(ctx context.Context, req models.PageRequest) (*models.Page, error)
	getFunc      func(ctx context.Context, id int64) (*models.Record, error)
	byFieldFunc  func(ctx context.Context, field, value string) ([]models.Record, error)
	byGroupFunc  func(ctx context.Context, group string) ([]models.Record, error)
	pointsFunc   func(ctx context.Context, field, value string) ([]dataset.Point, error)
	snapshotFunc func(ctx context.Context) (*models.RecordSet, error)
}

func (m *mockFacilityService) List(ctx context.Context, req models.PageRequest) (*models.Page, error) {
	return m.listFunc(ctx, req)
}

func (m *mockFacilityService) Get(ctx context.Context, id int64) (*models.Record, error) {
	return m.getFunc(ctx, id)
}

func (m *mockFacilityService) ByField(ctx context.Context, field, value string) ([]models.Record, error) {
	return m.byFieldFunc(ctx, field, value)
}

func (m *mockFacilityService) ByGroup(ctx context.Context, group string) ([]models.Record, error) {
	return m.byGroupFunc(ctx, group)
}

func (m *mockFacilityService) Points(ctx context.Context, field, value string) ([]dataset.Point, error) {
	return m.pointsFunc(ctx, field, value)
}

func (m *mockFacilityService) Snapshot(ctx context.Context) (*models.RecordSet, error) {
	return m.snapshotFunc(ctx)
}

type mockLogger struct{}

func (mockLogger) Debug(string, ...interface{}) {}
func (mockLogger) Info(string, ...interface{})  {}
func (mockLogger) Warn(string, ...interface{})  {}
func (mockLogger) Error(string, ...interface{}) {}

type mockMetrics struct {
	counters map[string]int
}

func (m *mockMetrics) IncrementCounter(name string, labels ...string) {
	if m.counters == nil {
		m.counters = make(map[string]int)
	}
	m.counters[name]++
}
func (m *mockMetrics) RecordHistogram(string, float64, ...string) {}
func (m *mockMetrics) RecordGauge(string, float64, ...string)     {}
func (m *mockMetrics) StartTimer(string) Timer                    { return mockTimer{} }

type mockTimer struct{}

func (mockTimer) Stop() time.Duration { return 0 }

var bankhead = models.Record{
	ID: 2, Name: "Bankhead Dam", Category: "hydroelectric", GroupKey: "Alabama",
	Location: models.GeoPoint{Latitude: 33.458665, Longitude: -87.356823}, Row: 1,
}

func serve(t *testing.T, svc *mockFacilityService, target string) (*httptest.ResponseRecorder, *mockMetrics) {
	t.Helper()
	metrics := &mockMetrics{}
	router := mux.NewRouter()
	NewFacilityHandler(svc, mockLogger{}, metrics).Register(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec, metrics
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestFacilityHandler_Index(t *testing.T) {
	rec, _ := serve(t, &mockFacilityService{}, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hello, power plants!")
}

func TestFacilityHandler_List(t *testing.T) {
	var got models.PageRequest
	svc := &mockFacilityService{
		listFunc: func(ctx context.Context, req models.PageRequest) (*models.Page, error) {
			got = req
			return &models.Page{
				Records: []models.Record{bankhead},
				Info:    models.NewPageInfo(45, req.Number(), req.PageSize),
			}, nil
		},
	}

	rec, _ := serve(t, svc, "/api/facilities?page=2&page_size=20&state=AL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.NewPageRequest(2, 20), got)

	var body ListResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, models.PageInfo{TotalCount: 45, PageNumber: 2, PageSize: 20, TotalPages: 3}, body.Info)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "Bankhead Dam", body.Records[0].Name)

	assert.Equal(t, "/api/facilities?page=1&page_size=20&state=AL", body.Links.Previous)
	assert.Equal(t, "/api/facilities?page=3&page_size=20&state=AL", body.Links.Next)
	assert.Equal(t, "/api/facilities?page=3&page_size=20&state=AL", body.Links.Last)
}

func TestFacilityHandler_ListPagePresence(t *testing.T) {
	var got models.PageRequest
	svc := &mockFacilityService{
		listFunc: func(ctx context.Context, req models.PageRequest) (*models.Page, error) {
			got = req
			return &models.Page{Records: []models.Record{}, Info: models.NewPageInfo(45, req.Number(), 20)}, nil
		},
	}

	rec, _ := serve(t, svc, "/api/facilities")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got.Page, "absent page is left to the service default")
	assert.Equal(t, 1, got.Number())

	rec, _ = serve(t, svc, "/api/facilities?page=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.Page)
	assert.Equal(t, 0, got.Number())
}

func TestFacilityHandler_ListBadParams(t *testing.T) {
	svc := &mockFacilityService{
		listFunc: func(ctx context.Context, req models.PageRequest) (*models.Page, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}

	for _, target := range []string{"/api/facilities?page=abc", "/api/facilities?page_size=1.5"} {
		rec, metrics := serve(t, svc, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, 1, metrics.counters["handler_errors"])

		var body ErrorBody
		decodeBody(t, rec, &body)
		assert.Equal(t, errors.CodeInvalidRequest, body.Error.Code)
	}
}

func TestFacilityHandler_Get(t *testing.T) {
	svc := &mockFacilityService{
		getFunc: func(ctx context.Context, id int64) (*models.Record, error) {
			if id == 2 {
				r := bankhead
				return &r, nil
			}
			return nil, errors.Newf(errors.CodeNotFound, "record %d not found", id)
		},
	}

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{name: "found", target: "/api/facilities/2", status: http.StatusOK},
		{name: "not found", target: "/api/facilities/9999", status: http.StatusNotFound, code: errors.CodeNotFound},
		{name: "not an integer", target: "/api/facilities/abc", status: http.StatusBadRequest, code: errors.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(t, svc, tt.target)
			require.Equal(t, tt.status, rec.Code)

			if tt.code == "" {
				var got models.Record
				decodeBody(t, rec, &got)
				assert.Equal(t, "Bankhead Dam", got.Name)
				return
			}
			var body ErrorBody
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.status, body.Status)
		})
	}
}

func TestFacilityHandler_ByGroup(t *testing.T) {
	svc := &mockFacilityService{
		byGroupFunc: func(ctx context.Context, group string) ([]models.Record, error) {
			if group == "New Mexico" {
				return []models.Record{}, nil
			}
			return []models.Record{bankhead}, nil
		},
	}

	rec, _ := serve(t, svc, "/api/groups/Alabama")
	require.Equal(t, http.StatusOK, rec.Code)
	var body RecordsResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, 1, body.Count)

	rec, _ = serve(t, svc, "/api/groups/New%20Mexico")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"records":[],"count":0}`, rec.Body.String())
}

func TestFacilityHandler_Search(t *testing.T) {
	svc := &mockFacilityService{
		byFieldFunc: func(ctx context.Context, field, value string) ([]models.Record, error) {
			if field != "StateName" {
				return nil, errors.Newf(errors.CodeInvalidRequest, "unknown field %q", field)
			}
			return []models.Record{bankhead}, nil
		},
	}

	rec, _ := serve(t, svc, "/api/facilities/search?field=StateName&value=Alabama")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, svc, "/api/facilities/search?value=Alabama")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "field is required")

	rec, _ = serve(t, svc, "/api/facilities/search?field=Owner&value=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFacilityHandler_Map(t *testing.T) {
	svc := &mockFacilityService{
		pointsFunc: func(ctx context.Context, field, value string) ([]dataset.Point, error) {
			return dataset.Points([]models.Record{bankhead}), nil
		},
	}

	rec, _ := serve(t, svc, "/api/map")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc FeatureCollection
	decodeBody(t, rec, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, [2]float64{-87.356823, 33.458665}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "Bankhead Dam", fc.Features[0].Properties["name"])
}

func TestFacilityHandler_Health(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		svc := &mockFacilityService{
			snapshotFunc: func(ctx context.Context) (*models.RecordSet, error) {
				return &models.RecordSet{Records: []models.Record{bankhead}, LoadedAt: time.Now()}, nil
			},
		}
		rec, _ := serve(t, svc, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"records":1`)
	})

	t.Run("source unavailable", func(t *testing.T) {
		svc := &mockFacilityService{
			snapshotFunc: func(ctx context.Context) (*models.RecordSet, error) {
				return nil, errors.New(errors.CodeSourceUnavailable, "cannot stat source /srv/data/plants.csv")
			},
		}
		rec, _ := serve(t, svc, "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "data source unavailable")
		assert.NotContains(t, rec.Body.String(), "/srv/data")
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New(errors.CodeNotFound, "x"), http.StatusNotFound},
		{errors.New(errors.CodeInvalidRequest, "x"), http.StatusBadRequest},
		{errors.New(errors.CodeSourceUnavailable, "x"), http.StatusServiceUnavailable},
		{errors.New(errors.CodeMalformedRecord, "x"), http.StatusInternalServerError},
		{errors.New(errors.CodeCanceled, "x"), StatusClientClosedRequest},
		{errors.New(errors.CodeTimeout, "x"), http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), errors.GetCode(tt.err))
	}
}

func TestWriteError_HidesInternalMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, assert.AnError)

	var body ErrorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, errors.CodeInternal, body.Error.Code)
	assert.Equal(t, "internal error", body.Error.Message)
}

func TestWriteError_ServerErrorsHideSourcePaths(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.Newf(errors.CodeSourceUnavailable, "cannot stat source %s", "/srv/data/plants.csv").
		WithDetail("path", "/srv/data/plants.csv"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/srv/data")

	var body ErrorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, errors.CodeSourceUnavailable, body.Error.Code)
	assert.Equal(t, "data source unavailable", body.Error.Message)
	assert.Nil(t, body.Error.Details)
}

func TestWriteError_ClientErrorsKeepDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New(errors.CodeInvalidRequest, "page size 900 exceeds maximum 500").
		WithDetail("max_page_size", 500))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "page size 900 exceeds maximum 500", body.Error.Message)
	assert.Equal(t, float64(500), body.Error.Details["max_page_size"])
}

func TestPageLinks_EmptySet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/facilities", nil)
	links := pageLinks(req.URL, models.NewPageInfo(0, 1, 20))
	assert.Equal(t, "/api/facilities?page=1&page_size=20", links.Self)
	assert.Empty(t, links.Next)
	assert.Empty(t, links.Last)
}
