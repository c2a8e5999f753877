package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
)

type billingApi struct {
	svc      *billing.Service
	validate *validator.Validate
}

func registerBillingAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *billing.Service, validate *validator.Validate) {
	api := billingApi{svc: svc, validate: validate}

	bg := g.Group("/billing", jwt)
	bg.GET("/plans", api.plans)
	bg.POST("/portal", api.portal)
	bg.POST("/subscribe", api.subscribe)
	bg.PUT("/seats", api.seats)
}

type (
	SubscribeRequest struct {
		PriceID string `json:"price_id" validate:"required"`
		Seats   int64  `json:"seats" validate:"omitempty,min=1"`
	}

	SeatsRequest struct {
		Seats int64 `json:"seats" validate:"required,min=1"`
	}

	PortalResponse struct {
		URL string `json:"url"`
	}
)

func (api *billingApi) plans(ctx echo.Context) error {
	options, err := api.svc.ListAvailablePlans(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, options)
}

func (api *billingApi) portal(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	url, err := api.svc.OpenBillingPortal(ctx.Request().Context(), claims.SchoolID, claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, PortalResponse{URL: url})
}

func (api *billingApi) subscribe(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	var data SubscribeRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubscribeRequest")
	}
	if err = api.validate.Struct(&data); err != nil {
		return err
	}

	res, err := api.svc.StartOrChangeSubscription(ctx.Request().Context(), claims.SchoolID, data.PriceID, data.Seats, claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *billingApi) seats(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	var data SeatsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SeatsRequest")
	}
	if err = api.validate.Struct(&data); err != nil {
		return err
	}

	res, err := api.svc.ChangeSeatQuantity(ctx.Request().Context(), claims.SchoolID, data.Seats, claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}
