package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-commerce/internal/domain/discount"
)

// ValidateDiscount serves GET /api/discounts/{code}. It reports whether the
// code can be used right now; the minimum purchase is not checked since no
// subtotal is known.
func (h *Handler) ValidateDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := h.discounts.FindByCode(r.Context(), discount.NormalizeCode(chi.URLParam(r, "code")))
	if errors.Is(err, discount.ErrInvalidCode) {
		writeError(w, &apiError{Status: http.StatusNotFound, Message: "discount not found"})
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	reason := d.Check(h.now())
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(d.Code)
		e.FieldStart("type")
		e.Str(string(d.Type))
		e.FieldStart("amount")
		money(e, d.Amount)
		e.FieldStart("timesUsed")
		e.Int(d.TimesUsed)
		e.FieldStart("usageLimit")
		e.Int(d.UsageLimit)
		e.FieldStart("isValid")
		e.Bool(reason == nil)
		if reason != nil {
			e.FieldStart("reason")
			e.Str(reason.Error())
		}
		e.ObjEnd()
	})
}
