package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/interfaces/http/dto"
)

var setupValidator sync.Once

// SetupValidator reports fields by their JSON (or form) name and registers
// the custom tags below. It must run before the first request is bound.
//
//	checksum  an "<algorithm>:<hex digest>" document checksum
func SetupValidator() {
	setupValidator.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(fieldName)
		_ = v.RegisterValidation("checksum", func(fl validator.FieldLevel) bool {
			_, err := document.ParseChecksum(fl.Field().String())
			return err == nil
		})
	})
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// HandleValidationError writes a 400 for a failed bind. Field failures are
// listed individually; a body that could not be decoded gets no details.
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

// FormatValidationErrors builds the response HandleValidationError writes
func FormatValidationErrors(err error, requestID string) dto.Response {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return dto.NewValidationErrorResponse("Malformed request body", requestID, nil)
	}
	details := make([]dto.ValidationDetail, len(fieldErrs))
	for i, fe := range fieldErrs {
		details[i] = dto.ValidationDetail{Field: fe.Field(), Message: describe(fe)}
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

var tagMessages = map[string]string{
	"required": "This field is required",
	"uuid":     "Invalid UUID format",
	"len":      "Must be exactly %s characters",
	"oneof":    "Must be one of: %s",
	"gte":      "Must be greater than or equal to %s",
	"lte":      "Must be less than or equal to %s",
	"gt":       "Must be greater than %s",
	"lt":       "Must be less than %s",
	"checksum": "Must be <algorithm>:<hex digest> with algorithm sha256 or blake2b",
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min", "max":
		bound := "at least "
		if fe.Tag() == "max" {
			bound = "at most "
		}
		msg := "Must be " + bound + fe.Param()
		if fe.Kind() == reflect.String {
			msg += " characters"
		}
		return msg
	}
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return "Invalid value"
	}
	if strings.Contains(msg, "%s") {
		return strings.Replace(msg, "%s", fe.Param(), 1)
	}
	return msg
}
