package handlers

import (
	"net/http"

	"github.com/HammerMeetNail/bookbuddy/internal/models"
	"github.com/HammerMeetNail/bookbuddy/internal/services"
)

type ListingHandler struct {
	listings  services.ListingServiceInterface
	exchanges services.ExchangeQueryInterface
}

func NewListingHandler(listings services.ListingServiceInterface, exchanges services.ExchangeQueryInterface) *ListingHandler {
	return &ListingHandler{listings: listings, exchanges: exchanges}
}

type ListingResponse struct {
	Listing *models.Listing `json:"listing"`
}

type ListingListResponse struct {
	Listings []models.Listing `json:"listings"`
}

type RequestListResponse struct {
	Requests []models.ExchangeRequest `json:"requests"`
}

// Search lists available listings. Signed-in callers do not see their own books.
func (h *ListingHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", services.DefaultListingSearchLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	params := services.ListingSearchParams{
		Query: r.URL.Query().Get("q"),
		Mode:  models.ExchangeType(r.URL.Query().Get("mode")),
		Limit: limit,
	}
	if callerID, ok := GetCallerFromContext(r.Context()); ok {
		params.ExcludeOwnerID = callerID
	}

	listings, err := h.listings.ListAvailable(r.Context(), params)
	if err != nil {
		writeServiceError(w, "searching listings", err)
		return
	}
	writeJSON(w, http.StatusOK, ListingListResponse{Listings: listings})
}

func (h *ListingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	listings, err := h.listings.ListByOwner(r.Context(), callerID)
	if err != nil {
		writeServiceError(w, "listing own listings", err)
		return
	}
	writeJSON(w, http.StatusOK, ListingListResponse{Listings: listings})
}

func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "listing")
	if !ok {
		return
	}

	listing, err := h.listings.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "getting listing", err)
		return
	}
	writeJSON(w, http.StatusOK, ListingResponse{Listing: listing})
}

func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var params services.CreateListingParams
	if !decodeBody(w, r, &params) {
		return
	}

	listing, err := h.listings.Create(r.Context(), callerID, params)
	if err != nil {
		writeServiceError(w, "creating listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, ListingResponse{Listing: listing})
}

func (h *ListingHandler) Update(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "listing")
	if !ok {
		return
	}

	var params services.UpdateListingParams
	if !decodeBody(w, r, &params) {
		return
	}

	listing, err := h.listings.Update(r.Context(), id, callerID, params)
	if err != nil {
		writeServiceError(w, "updating listing", err)
		return
	}
	writeJSON(w, http.StatusOK, ListingResponse{Listing: listing})
}

func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "listing")
	if !ok {
		return
	}

	if err := h.listings.Delete(r.Context(), id, callerID); err != nil {
		writeServiceError(w, "deleting listing", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Listing deleted"})
}

// Requests lists every request made against a listing. Owner only.
func (h *ListingHandler) Requests(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id", "listing")
	if !ok {
		return
	}

	requests, err := h.exchanges.ListByListing(r.Context(), id, callerID)
	if err != nil {
		writeServiceError(w, "listing requests for listing", err)
		return
	}
	writeJSON(w, http.StatusOK, RequestListResponse{Requests: requests})
}
