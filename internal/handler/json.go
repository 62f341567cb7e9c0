package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// apiError is the {"code","message","details"} error body.
type apiError struct {
	Status  int
	Message string
	Details map[string]any
}

func (e *apiError) Error() string { return e.Message }

func badRequest(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Message: msg}
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, apiErr *apiError) {
	writeJSON(w, apiErr.Status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(apiErr.Status)
		e.FieldStart("message")
		e.Str(apiErr.Message)
		if len(apiErr.Details) > 0 {
			e.FieldStart("details")
			encodeDetails(e, apiErr.Details)
		}
		e.ObjEnd()
	})
}

func encodeDetails(e *jx.Encoder, details map[string]any) {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	e.ObjStart()
	for _, k := range keys {
		e.FieldStart(k)
		switch v := details[k].(type) {
		case string:
			e.Str(v)
		case int:
			e.Int(v)
		case map[string]any:
			encodeDetails(e, v)
		default:
			e.Null()
		}
	}
	e.ObjEnd()
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) *apiError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &apiError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		default:
			return badRequest("invalid request body: " + err.Error())
		}
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return badRequest(err.Error())
		}
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return &apiError{
			Status:  http.StatusBadRequest,
			Message: "request validation failed",
			Details: map[string]any{"fields": fields},
		}
	}
	return nil
}
