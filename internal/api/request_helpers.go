package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/scry-feedback-api/internal/api/shared"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
)

// decodeGenerateRequest decodes and validates the generate payload. JSON
// type mismatches, such as a string temperature, are reported as
// validation errors on the offending field.
func decodeGenerateRequest(r *http.Request) (GenerateRequest, error) {
	var req GenerateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "body"
			}
			return req, domain.NewValidationError(field, "must be a "+jsonKind(typeErr.Type.Kind().String()))
		}
		if errors.Is(err, shared.ErrEmptyBody) {
			return req, domain.NewValidationError("body", "is required")
		}
		return req, domain.NewValidationError("body", "is not valid JSON")
	}

	if err := shared.ValidateRequest(&req); err != nil {
		return req, validationErrorFromTags(err)
	}
	return req, nil
}

// getPathParam returns a required, trimmed path parameter.
func getPathParam(r *http.Request, name, field string) (string, error) {
	value := domain.NormalizeExerciseRecordID(chi.URLParam(r, name))
	if value == "" {
		return "", domain.NewValidationError(field, "is required")
	}
	return value, nil
}

func jsonKind(kind string) string {
	switch {
	case strings.HasPrefix(kind, "float"), strings.HasPrefix(kind, "int"), strings.HasPrefix(kind, "uint"):
		return "number"
	case kind == "slice":
		return "list"
	case kind == "struct":
		return "object"
	default:
		return kind
	}
}
