// Package httperr maps domain errors to HTTP responses.
package httperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/alerts"
	"github.com/sudo-init-do/homebid/internal/bounty"
	"github.com/sudo-init-do/homebid/internal/document"
	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/messaging"
	"github.com/sudo-init-do/homebid/internal/showing"
)

var statusByErr = []struct {
	err    error
	status int
}{
	{ledger.ErrInsufficientFunds, http.StatusPaymentRequired},

	{bounty.ErrNotFound, http.StatusNotFound},
	{showing.ErrNotFound, http.StatusNotFound},
	{account.ErrNotFound, http.StatusNotFound},
	{ledger.ErrAccountNotFound, http.StatusNotFound},
	{alerts.ErrNotFound, http.StatusNotFound},

	{bounty.ErrAlreadyClaimed, http.StatusConflict},
	{bounty.ErrBountyClosed, http.StatusConflict},
	{bounty.ErrNotClaimHolder, http.StatusConflict},
	{bounty.ErrBountyExists, http.StatusConflict},
	{showing.ErrAuctionClosed, http.StatusConflict},
	{showing.ErrConflict, http.StatusConflict},
	{showing.ErrInvalidTransition, http.StatusConflict},
	{account.ErrEmailTaken, http.StatusConflict},
	{messaging.ErrChatClosed, http.StatusConflict},

	{bounty.ErrSelfDealing, http.StatusForbidden},
	{showing.ErrSelfDealing, http.StatusForbidden},
	{showing.ErrNotParticipant, http.StatusForbidden},
	{messaging.ErrNotParticipant, http.StatusForbidden},

	{showing.ErrBidTooLow, http.StatusBadRequest},
	{showing.ErrInvalidRole, http.StatusBadRequest},
	{showing.ErrInvalidWindow, http.StatusBadRequest},
	{showing.ErrInvalidProperty, http.StatusBadRequest},
	{bounty.ErrInvalidProperty, http.StatusBadRequest},
	{ledger.ErrZeroDelta, http.StatusBadRequest},
	{account.ErrInvalid, http.StatusBadRequest},
	{messaging.ErrEmptyMessage, http.StatusBadRequest},
	{messaging.ErrTooLong, http.StatusBadRequest},
	{document.ErrEmpty, http.StatusBadRequest},
	{document.ErrUnsupportedType, http.StatusUnsupportedMediaType},
	{document.ErrTooLarge, http.StatusRequestEntityTooLarge},

	{bounty.ErrScoringFailed, http.StatusBadGateway},
}

// Status returns the HTTP status for err.
func Status(err error) int {
	for _, m := range statusByErr {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Write responds with {"error": ...}. Unmapped errors are logged and
// reported as service unavailable without the cause.
func Write(c echo.Context, err error) error {
	status := Status(err)
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		slog.ErrorContext(c.Request().Context(), "request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
	}
	if status == http.StatusInternalServerError {
		return c.JSON(status, echo.Map{"error": "service unavailable"})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}

// BadRequest responds 400 with msg.
func BadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
