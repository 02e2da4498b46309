package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/httperr"
	"github.com/sudo-init-do/homebid/internal/middleware"
	"github.com/sudo-init-do/homebid/internal/showing"
)

type openShowingRequest struct {
	PropertyID     string `json:"property_id"`
	PreferredTimes string `json:"preferred_times"`
	WindowMinutes  int    `json:"window_minutes"`
}

// POST /showings
func (h *handlers) openShowing(c echo.Context) error {
	req := new(openShowingRequest)
	if err := c.Bind(req); err != nil || req.WindowMinutes < 0 {
		return httperr.BadRequest(c, "invalid request")
	}
	// checked here so the conversion below cannot overflow
	if req.WindowMinutes > int(showing.MaxWindow/time.Minute) {
		return httperr.Write(c, showing.ErrInvalidWindow)
	}
	sr, err := h.showings.Open(c.Request().Context(), showing.OpenRequest{
		Requester:      middleware.UserID(c),
		PropertyID:     req.PropertyID,
		PreferredTimes: req.PreferredTimes,
		Window:         time.Duration(req.WindowMinutes) * time.Minute,
	})
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, sr)
}

// GET /showings lists open auctions; ?mine=true lists the caller's own.
func (h *handlers) listShowings(c echo.Context) error {
	ctx := c.Request().Context()
	var list []showing.ShowingRequest
	var err error
	if c.QueryParam("mine") == "true" {
		list, err = h.showings.ListForAccount(ctx, middleware.UserID(c), queryLimit(c))
	} else {
		list, err = h.showings.ListBidding(ctx, queryLimit(c))
	}
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"showing_requests": list})
}

// GET /showings/:id
func (h *handlers) getShowing(c echo.Context) error {
	sr, err := h.showings.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, sr)
}

type bidRequest struct {
	Amount   int64  `json:"amount"`
	TimeSlot string `json:"time_slot"`
}

// POST /showings/:id/bids
func (h *handlers) placeBid(c echo.Context) error {
	req := new(bidRequest)
	if err := c.Bind(req); err != nil {
		return httperr.BadRequest(c, "invalid request")
	}
	res, err := h.showings.PlaceBid(c.Request().Context(), showing.BidRequest{
		ShowingRequestID: c.Param("id"),
		AgentID:          middleware.UserID(c),
		Amount:           req.Amount,
		TimeSlot:         req.TimeSlot,
	})
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// GET /showings/:id/bids. The requester and admins see every bid; agents
// see only their own.
func (h *handlers) listBids(c echo.Context) error {
	ctx := c.Request().Context()
	sr, bids, err := h.showings.Bids(ctx, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}

	caller := middleware.UserID(c)
	if middleware.Role(c) != account.RoleAdmin && sr.Requester != caller {
		own := bids[:0]
		for _, b := range bids {
			if b.BiddingAgent == caller {
				own = append(own, b)
			}
		}
		bids = own
	}
	return c.JSON(http.StatusOK, echo.Map{"bids": bids})
}

// POST /showings/:id/confirm confirms as the caller's role.
func (h *handlers) confirmShowing(c echo.Context) error {
	sr, err := h.showings.Confirm(c.Request().Context(), c.Param("id"), middleware.UserID(c), middleware.Role(c))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, sr)
}
