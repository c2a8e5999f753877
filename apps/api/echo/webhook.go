package echoapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
)

// maxWebhookBody caps webhook payload reads; Stripe events stay well
// under this. Oversized bodies are rejected outright rather than
// truncated, which would read as a signature mismatch.
const maxWebhookBody = 1 << 20

type webhookApi struct {
	gw         billing.Gateway
	reconciler *billing.Reconciler
	logger     core.Logger
}

func registerWebhookAPI(g *echo.Group, gw billing.Gateway, reconciler *billing.Reconciler, logger core.Logger) {
	api := webhookApi{gw: gw, reconciler: reconciler, logger: logger}
	g.POST("/webhooks/billing", api.handleBillingEvent)
}

// handleBillingEvent verifies and applies a provider event. A 4xx tells
// the provider to stop redelivering; anything transient answers 5xx so
// the event is retried.
func (api *webhookApi) handleBillingEvent(ctx echo.Context) error {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Response(), ctx.Request().Body, maxWebhookBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "reading payload")
	}

	event, err := api.gw.VerifyEvent(ctx.Request().Context(), payload, ctx.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Cause(err) == billing.ErrSignatureInvalid {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
		}
		return errors.Wrap(err, "verifying provider event")
	}

	if err = api.reconciler.Process(ctx.Request().Context(), event); err != nil {
		if errors.Cause(err) == school.ErrNotFound {
			api.logger.Warn(fmt.Sprintf("provider event %s references no known school", event.EventID()))
			return errHttpNotFound
		}
		return errors.Wrapf(err, "processing provider event %s", event.EventID())
	}

	return ctx.JSON(http.StatusOK, echo.Map{"received": true})
}
