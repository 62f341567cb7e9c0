package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/cart"
	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

// toAPIError maps domain errors to HTTP responses. Unknown errors yield nil.
func toAPIError(err error) *apiError {
	var (
		apiErr        *apiError
		quantityErr   *product.InvalidQuantityError
		stockErr      *product.InsufficientStockError
		notFoundErr   *order.ProductNotFoundError
		unavailErr    *order.ProductUnavailableError
		notApplicable *order.DiscountNotApplicableError
		statusErr     *order.InvalidStatusError
		transitionErr *order.InvalidTransitionError
		collisionErr  *order.OrderNumberCollisionError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, order.ErrEmptyOrder), errors.Is(err, order.ErrInvalidShippingCost):
		return badRequest(err.Error())
	case errors.As(err, &quantityErr):
		return &apiError{
			Status:  http.StatusBadRequest,
			Message: quantityErr.Error(),
			Details: map[string]any{"productId": quantityErr.ProductID, "quantity": quantityErr.Quantity},
		}
	case errors.As(err, &statusErr):
		return &apiError{
			Status:  http.StatusBadRequest,
			Message: statusErr.Error(),
			Details: map[string]any{"field": statusErr.Field, "value": statusErr.Value},
		}
	case errors.As(err, &stockErr):
		details := map[string]any{
			"productId": stockErr.ProductID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		}
		if errors.Is(err, order.ErrConcurrentStockConflict) {
			details["reason"] = "concurrent_update"
		}
		return &apiError{Status: http.StatusConflict, Message: "insufficient stock", Details: details}
	case errors.As(err, &transitionErr):
		return &apiError{
			Status:  http.StatusConflict,
			Message: transitionErr.Error(),
			Details: map[string]any{"from": string(transitionErr.From), "to": string(transitionErr.To)},
		}
	case errors.Is(err, discount.ErrInvalidCode):
		return &apiError{Status: http.StatusUnprocessableEntity, Message: "invalid discount code"}
	case errors.As(err, &notApplicable):
		return &apiError{
			Status:  http.StatusUnprocessableEntity,
			Message: "discount not applicable",
			Details: map[string]any{"code": notApplicable.Code, "reason": notApplicable.Err.Error()},
		}
	case errors.Is(err, cart.ErrDiscountNotValid):
		return &apiError{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	case errors.As(err, &notFoundErr):
		return &apiError{
			Status:  http.StatusUnprocessableEntity,
			Message: notFoundErr.Error(),
			Details: map[string]any{"productId": notFoundErr.ProductID},
		}
	case errors.As(err, &unavailErr):
		return &apiError{
			Status:  http.StatusUnprocessableEntity,
			Message: unavailErr.Error(),
			Details: map[string]any{"productId": unavailErr.ProductID},
		}
	case errors.Is(err, cart.ErrProductUnavailable):
		return &apiError{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	case errors.Is(err, product.ErrNotFound):
		return &apiError{Status: http.StatusNotFound, Message: "product not found"}
	case errors.Is(err, cart.ErrItemNotFound):
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, order.ErrNotFound):
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	case errors.As(err, &collisionErr):
		return &apiError{Status: http.StatusServiceUnavailable, Message: "could not allocate order number, retry later"}
	}
	return nil
}

// fail writes the response for err. Unmapped errors are logged and hidden
// behind a 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	if apiErr := toAPIError(err); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	writeError(w, &apiError{Status: http.StatusInternalServerError, Message: "internal server error"})
}
