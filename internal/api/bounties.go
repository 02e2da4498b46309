package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/bounty"
	"github.com/sudo-init-do/homebid/internal/document"
	"github.com/sudo-init-do/homebid/internal/httperr"
	"github.com/sudo-init-do/homebid/internal/middleware"
)

type openBountyRequest struct {
	PropertyID string `json:"property_id"`
}

// POST /bounties
func (h *handlers) openBounty(c echo.Context) error {
	req := new(openBountyRequest)
	if err := c.Bind(req); err != nil {
		return httperr.BadRequest(c, "invalid request")
	}
	b, err := h.bounties.Open(c.Request().Context(), middleware.UserID(c), req.PropertyID)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// GET /bounties lists open bounties; ?mine=true lists the caller's own.
func (h *handlers) listBounties(c echo.Context) error {
	ctx := c.Request().Context()
	limit := queryLimit(c)

	var list []bounty.Bounty
	var err error
	if c.QueryParam("mine") == "true" {
		list, err = h.bounties.ListForAccount(ctx, middleware.UserID(c), limit)
	} else {
		list, err = h.bounties.ListOpen(ctx, limit)
	}
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bounties": list})
}

// GET /bounties/:id
func (h *handlers) getBounty(c echo.Context) error {
	b, err := h.bounties.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// POST /bounties/:id/claim
func (h *handlers) claimBounty(c echo.Context) error {
	b, err := h.bounties.Claim(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// POST /bounties/:id/deliver takes a multipart "document" file.
func (h *handlers) deliverBounty(c echo.Context) error {
	fh, err := c.FormFile("document")
	if err != nil {
		return httperr.BadRequest(c, "document file is required")
	}
	if fh.Size > document.MaxSize {
		return httperr.Write(c, document.ErrTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return httperr.BadRequest(c, "unreadable upload")
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, document.MaxSize+1))
	if err != nil {
		return httperr.BadRequest(c, "unreadable upload")
	}
	upload := document.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Body:        body,
	}

	report, err := h.bounties.Deliver(c.Request().Context(), c.Param("id"), middleware.UserID(c), upload)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, report)
}

// GET /bounties/:id/report is visible to the requester, the completing
// agent and admins.
func (h *handlers) bountyReport(c echo.Context) error {
	ctx := c.Request().Context()
	b, err := h.bounties.Get(ctx, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	caller := middleware.UserID(c)
	allowed := middleware.Role(c) == account.RoleAdmin || b.Requester == caller ||
		(b.CompletedBy != nil && *b.CompletedBy == caller)
	if !allowed {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed to view this report"})
	}

	report, err := h.bounties.Report(ctx, b.ID)
	if errors.Is(err, bounty.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "report not available yet"})
	}
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func queryLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil {
		return 0
	}
	return n
}
