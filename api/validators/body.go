package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

// maxBodyBytes caps merchant request bodies. Webhooks read their own body.
const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their json name so details match the body
// the caller sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// DecodeJSONBody decodes exactly one JSON object into dest, rejecting unknown
// fields and trailing data, then validates it. allowEmpty accepts a missing body.
func DecodeJSONBody(r *http.Request, dest any, allowEmpty bool) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dest)
	switch {
	case errors.Is(err, io.EOF) && allowEmpty:
	case err != nil:
		return bodyError(err)
	case dec.More():
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must be a single JSON object")
	}
	return Struct(dest)
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body too large").
			WithDetails(map[string]any{"limit_bytes": tooLarge.Limit})
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

// Struct runs the shared validator against v.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Namespace()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

var bounded = map[string]string{
	"min":   "must be at least %s",
	"gte":   "must be at least %s",
	"max":   "must be at most %s",
	"lte":   "must be at most %s",
	"gt":    "must be greater than %s",
	"oneof": "must be one of [%s]",
}

var fixed = map[string]string{
	"required": "is required",
	"email":    "must be a valid email",
	"uuid":     "must be a valid uuid",
	"url":      "must be a valid url",
}

func describe(fe validator.FieldError) string {
	if format, ok := bounded[fe.Tag()]; ok {
		return fmt.Sprintf(format, fe.Param())
	}
	if msg, ok := fixed[fe.Tag()]; ok {
		return msg
	}
	return "is invalid"
}
