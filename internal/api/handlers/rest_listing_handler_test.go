package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"afriverse/core/internal/api/handlers"
	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/utils"
)

func newListingRouter(listingSvc *MockListingService, userID utils.ShortID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := handlers.NewRestListingHandler(listingSvc)
	r := gin.New()
	r.GET("/v1/listing/search", handler.SearchListings)
	r.GET("/v1/listing/:id", handler.GetListingByID)

	authed := r.Group("/", authAs(userID))
	authed.POST("/v1/listing", handler.CreateListing)
	authed.DELETE("/v1/listing/:id", handler.DeleteListing)
	return r
}

func TestListingHandler_GetByID(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := newListingRouter(mockListingSvc, utils.NewShortID())

	listingID := utils.NewShortID()
	expected := &models.Listing{
		Base:   models.Base{ID: listingID},
		Title:  "Denim jacket",
		Price:  45.0,
		Status: models.ListingStatusActive,
	}
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).Return(expected, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/"+listingID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var respBody models.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &respBody))
	assert.Equal(t, expected.ID, respBody.ID)
	assert.Equal(t, "Denim jacket", respBody.Title)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_GetByID_NotFound(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := newListingRouter(mockListingSvc, utils.NewShortID())

	listingID := utils.NewShortID()
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).Return(nil, db.ErrNotFound)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/"+listingID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListingHandler_Search_FilterParsing(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := newListingRouter(mockListingSvc, utils.NewShortID())

	mockListingSvc.On("SearchListings", mock.Anything,
		mock.MatchedBy(func(filter models.ListingFilter) bool {
			return filter.Query == "denim" &&
				len(filter.Categories) == 2 &&
				filter.Categories[0] == "jackets" &&
				filter.Categories[1] == "skirts" &&
				len(filter.Conditions) == 1 &&
				filter.TryOnOnly &&
				filter.PriceMin != nil && *filter.PriceMin == 10.0 &&
				filter.PriceMax != nil && *filter.PriceMax == 50.0
		}), 20, "").
		Return([]models.Listing{{Base: models.NewBase(), Title: "Denim jacket"}}, "", nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/search?q=denim&categories=jackets,%20skirts&conditions=good&try_on=true&price_min=10&price_max=50&limit=20", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].([]interface{})
	require.True(t, ok)
	assert.Len(t, data, 1)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_Search_BadPrice(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := newListingRouter(mockListingSvc, utils.NewShortID())

	for _, query := range []string{"price_min=abc", "price_max=-5", "price_min=-1"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/v1/listing/search?"+query, nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, "query %q should be rejected", query)
	}
	mockListingSvc.AssertNotCalled(t, "SearchListings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListingHandler_Search_LimitClamped(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := newListingRouter(mockListingSvc, utils.NewShortID())

	// An out-of-range limit falls back to the default.
	mockListingSvc.On("SearchListings", mock.Anything, mock.Anything, 50, "").
		Return([]models.Listing{}, "", nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/search?limit=5000", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_Create(t *testing.T) {
	mockListingSvc := new(MockListingService)
	sellerID := utils.NewShortID()
	r := newListingRouter(mockListingSvc, sellerID)

	created := &models.Listing{
		Base:     models.NewBase(),
		SellerID: sellerID,
		Title:    "Silk scarf",
		Price:    18.0,
		Status:   models.ListingStatusDraft,
	}
	mockListingSvc.On("CreateListing", mock.Anything, sellerID,
		mock.MatchedBy(func(fields models.Listing) bool {
			return fields.Title == "Silk scarf" && fields.Price == 18.0 && fields.Category == "accessories"
		})).Return(created, nil)

	reqBody, _ := json.Marshal(map[string]interface{}{
		"title":    "Silk scarf",
		"price":    18.0,
		"category": "accessories",
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var respBody models.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &respBody))
	assert.Equal(t, models.ListingStatusDraft, respBody.Status)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_Create_MissingTitle(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := newListingRouter(mockListingSvc, utils.NewShortID())

	reqBody, _ := json.Marshal(map[string]interface{}{"price": 18.0})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockListingSvc.AssertNotCalled(t, "CreateListing", mock.Anything, mock.Anything, mock.Anything)
}

func TestListingHandler_Delete(t *testing.T) {
	mockListingSvc := new(MockListingService)
	sellerID := utils.NewShortID()
	listingID := utils.NewShortID()
	r := newListingRouter(mockListingSvc, sellerID)

	mockListingSvc.On("DeleteListing", mock.Anything, listingID, sellerID).Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/v1/listing/"+listingID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockListingSvc.AssertExpectations(t)
}
