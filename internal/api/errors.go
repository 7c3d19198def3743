package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"testtrack/server/internal/projects"
	"testtrack/server/internal/testfiles"
	"testtrack/server/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// respondError maps service errors to HTTP responses
func (h *Handler) respondError(c *gin.Context, err error) {
	var conflict *testfiles.ConflictError
	switch {
	case errors.As(err, &conflict):
		if conflict.SameSprint() {
			body := gin.H{
				"message":              conflict.Message,
				"requiresConfirmation": true,
				"sameSprint":           true,
			}
			if conflict.Resolution.Existing != nil {
				body["file_id"] = conflict.Resolution.Existing.ID
			}
			c.JSON(http.StatusConflict, body)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"message":            conflict.Message,
			"existingSprintId":   conflict.Resolution.ExistingSprintID,
			"existingSprintName": conflict.Resolution.ExistingSprintName,
			"cannotUpload":       true,
		})

	case errors.Is(err, testfiles.ErrValidation), errors.Is(err, projects.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, testfiles.ErrNotFound), errors.Is(err, projects.ErrNotFound), errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})

	default:
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Bool("storage", errors.Is(err, testfiles.ErrStorage)),
			zap.Error(err),
		)
		_ = c.Error(err)
		message := "internal server error"
		if h.development {
			message = err.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

var registerTagName sync.Once

// useJSONFieldNames makes validation errors name fields as clients send them
func useJSONFieldNames() {
	registerTagName.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
}

// bindingMessage turns a bind error into a readable message
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(messages, "; ")
}
