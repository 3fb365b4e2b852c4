package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// NewValidator returns a validator that reports fields by their JSON name
// and understands the notblank and maxbytes tags. maxbytes bounds the UTF-8
// length, where max counts runes.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}

// ValidateBody decodes the JSON body into T, validates it and stores it in
// the request context for the next handler. Failures end the request with 400.
func ValidateBody[T any](v *validator.Validate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body T
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{
					Error:   "Validation failed",
					Details: []string{"body : Invalid JSON"},
				})
				return
			}

			if err := v.StructCtx(r.Context(), body); err != nil {
				var verrs validator.ValidationErrors
				if !errors.As(err, &verrs) {
					writeError(w, http.StatusInternalServerError, "Failed to process request")
					return
				}
				writeJSON(w, http.StatusBadRequest, ErrorResponse{
					Error:   "Validation failed",
					Details: validationDetails(verrs),
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(withBody(r.Context(), body)))
		})
	}
}

func validationDetails(verrs validator.ValidationErrors) []string {
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fmt.Sprintf("%s : %s", fe.Field(), validationMessage(fe)))
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "Required"
	case "email":
		return "Invalid email"
	case "min":
		return fmt.Sprintf("Must contain at least %s character(s)", fe.Param())
	case "max":
		return fmt.Sprintf("Must contain at most %s character(s)", fe.Param())
	case "maxbytes":
		return fmt.Sprintf("Must contain at most %s byte(s)", fe.Param())
	default:
		return "Invalid value"
	}
}
