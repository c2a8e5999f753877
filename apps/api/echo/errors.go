package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/quota"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *quota.LimitError:
			code = http.StatusForbidden
			message = origErr.Error()
		case *billing.PaymentPendingError:
			code = http.StatusPaymentRequired
			message = echo.Map{
				"error":              origErr.Error(),
				"invoice_id":         origErr.InvoiceID,
				"hosted_invoice_url": origErr.HostedInvoiceURL,
			}
		default:
			code, message = mapDomainError(origErr)
			if code == http.StatusBadGateway {
				logger.Error("payment provider unavailable", err, user.User{})
			}
			if code == http.StatusInternalServerError {
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				var usr user.User
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					usr.ID = claims.Subject
					usr.Email = claims.Email
				}
				logger.Error(msg, errors.Wrap(err, msg), usr)

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// mapDomainError translates sentinel errors from the core packages.
func mapDomainError(cause error) (int, interface{}) {
	switch cause {
	case school.ErrNotFound, user.ErrNotFound, school.ErrUnknownPrice:
		return http.StatusNotFound, cause.Error()
	case billing.ErrNotBillingManager:
		return http.StatusForbidden, cause.Error()
	case billing.ErrNoSubscription, billing.ErrSameQuantity, school.ErrCustomerAssigned, billing.ErrSeatFloor:
		return http.StatusBadRequest, cause.Error()
	}
	if billing.IsProviderUnavailable(cause) {
		return http.StatusBadGateway, "payment provider unavailable"
	}
	return http.StatusInternalServerError, nil
}
