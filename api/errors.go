package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"gitlab.com/gridshare/gpu-cloud-service/auth"
)

type ProblemDetail struct {
	Status int           `json:"status,omitempty"`
	Title  string        `json:"title,omitempty"`
	Detail string        `json:"detail,omitempty"`
	Errors []ErrorDetail `json:"errors,omitempty"`
}

type ErrorDetail struct {
	Detail  string `json:"detail"`
	Pointer string `json:"pointer"`
}

func NewValidationProblem(e error) ProblemDetail {
	return ProblemDetail{
		Status: http.StatusBadRequest,
		Title:  "Input Validation Error",
		Detail: "Your request body has invalid parameters.",
		Errors: readableErrors(e),
	}
}

func NewEmptyBodyProblem() ProblemDetail {
	return ProblemDetail{
		Status: http.StatusBadRequest,
		Title:  "Empty Body Error",
		Detail: "Your request body is empty.",
	}
}

func readableErrors(e error) []ErrorDetail {
	var details []ErrorDetail
	var validationErrors validator.ValidationErrors
	if !errors.As(e, &validationErrors) {
		return []ErrorDetail{{Detail: e.Error()}}
	}
	for _, err := range validationErrors {
		details = append(details, ErrorDetail{
			Detail:  err.Error(),
			Pointer: strings.ToLower(err.Field()),
		})
	}
	return details
}

// abortWithAuthError maps the gate's typed denials onto the HTTP taxonomy:
// missing/invalid credentials are unauthorized, role and ownership denials
// are forbidden.
func abortWithAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrNoCredential),
		errors.Is(err, auth.ErrInvalidCredential):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInactiveUser):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrWrongRole), errors.Is(err, auth.ErrNotOwner):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
