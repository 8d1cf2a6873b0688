// Package apierrors provides standardized error handling for the engine.
//
// This file implements error handling middleware for the Gin control plane.
//
// Middleware Functions:
//   - ErrorHandler: converts *Error (and generic errors) to JSON responses
//   - Recovery: recovers from panics
//   - HandleError / AbortWithError: helpers for handlers
package apierrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ErrorHandler is a middleware that handles errors consistently.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()
		if apiErr, ok := err.Err.(*Error); ok {
			if apiErr.StatusCode >= 500 {
				log.Error().Str("code", string(apiErr.Code)).Str("details", apiErr.Details).Msg(apiErr.Message)
			} else {
				log.Warn().Str("code", string(apiErr.Code)).Msg(apiErr.Message)
			}
			c.JSON(apiErr.StatusCode, apiErr.ToResponse())
			return
		}

		log.Error().Err(err.Err).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, Response{
			Error:   string(CodeInternal),
			Message: "an unexpected error occurred",
			Code:    string(CodeInternal),
		})
	}
}

// Recovery is a middleware that recovers from panics in request handlers.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("recovered from panic")
				c.JSON(http.StatusInternalServerError, Response{
					Error:   string(CodeInternal),
					Message: "an unexpected error occurred",
					Code:    string(CodeInternal),
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HandleError is a helper to respond to a handler error.
func HandleError(c *gin.Context, err error) {
	if apiErr, ok := err.(*Error); ok {
		c.Error(apiErr)
		c.JSON(apiErr.StatusCode, apiErr.ToResponse())
		return
	}
	wrapped := Internal(err)
	c.Error(wrapped)
	c.JSON(wrapped.StatusCode, wrapped.ToResponse())
}

// AbortWithError aborts the request with the given error.
func AbortWithError(c *gin.Context, err *Error) {
	c.Error(err)
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}
