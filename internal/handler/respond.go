package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 64 << 10

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a single JSON object from the body into dst and validates
// it. Errors are domain errors ready for ErrorResponse.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *validator.Validate, op string, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return domain.Invalid(op, "request body is required")
		case errors.As(err, &maxErr):
			return domain.Invalid(op, "request body is too large")
		default:
			return domain.Invalid(op, "request body is not valid JSON")
		}
	}
	if dec.More() {
		return domain.Invalid(op, "request body must contain a single JSON object")
	}

	return validateStruct(v, op, dst)
}

// validateStruct translates validator failures into a domain.ValidationError.
func validateStruct(v *validator.Validate, op string, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return domain.Internal(err, op, "validation failed")
	}

	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(errs))}
	for _, fe := range errs {
		ve.Fields[fe.Field()] = fieldMessage(fe)
	}
	return ve
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "datetime":
		return fmt.Sprintf("must match the format %s", fe.Param())
	default:
		return "is invalid"
	}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
