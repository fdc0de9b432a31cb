// Package validation provides input validation for the tokenrisk API and CLI.
package validation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// structValidate is the validator instance for request structs, with the
// chain and token tags registered in init.
var structValidate *validator.Validate

func init() {
	structValidate = validator.New()
	_ = structValidate.RegisterValidation("chain", func(fl validator.FieldLevel) bool {
		_, ok := LookupChain(fl.Field().String())
		return ok
	})
	_ = structValidate.RegisterValidation("token", func(fl validator.FieldLevel) bool {
		_, err := NormalizeToken(fl.Field().String())
		return err == nil
	})
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// TokenParamMiddleware validates the :chain and :token URL parameters on
// routes that use them and rewrites them to canonical form.
func TokenParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		chain, token := c.Param("chain"), c.Param("token")
		if chain == "" && token == "" {
			c.Next()
			return
		}
		canonChain, canonToken, err := NormalizeTarget(chain, token)
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, ErrUnknownChain) {
				code = "unknown_chain"
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   code,
				"message": err.Error(),
			})
			return
		}
		for i := range c.Params {
			switch c.Params[i].Key {
			case "chain":
				c.Params[i].Value = canonChain
			case "token":
				c.Params[i].Value = canonToken
			}
		}
		c.Next()
	}
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Struct runs tag-based validation on v and converts failures into
// ValidationErrors keyed by field name.
func Struct(v any) ValidationErrors {
	err := structValidate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{Field: lowerFirst(fe.Field()), Message: tagMessage(fe)})
	}
	return out
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "chain":
		return "must be a supported chain"
	case "token":
		return "must be a valid token contract address (0x + 40 hex chars)"
	case "max":
		return "exceeds maximum length"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidToken checks if a field is a valid token contract address
func ValidToken(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if _, err := NormalizeToken(value); err != nil {
			return &ValidationError{Field: field, Message: "must be a valid token contract address (0x + 40 hex chars)"}
		}
		return nil
	}
}

// ValidChain checks if a field names a supported chain
func ValidChain(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, ok := LookupChain(value); !ok {
			return &ValidationError{Field: field, Message: "must be a supported chain"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}
