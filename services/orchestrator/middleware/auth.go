// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the sidecar service.
//
// # Authentication Flow
//
// Review endpoints are reviewer-only. The auth middleware extracts a bearer
// token, validates it with the configured AuthProvider and stores the
// resulting AuthInfo in the Gin context. RequireRole then checks that the
// identity carries the reviewer role.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware ─► provider.Validate(ctx, token) ─► SetAuthInfo
//	   │
//	   ▼
//	RequireRole(extensions.RoleReviewer)
//	   │
//	   ▼
//	Handler (retrieves via GetAuthInfo)
//
// With NopAuthProvider (local deployments) every request is authenticated as
// "local-user" with the reviewer role.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// authInfoKey is the Gin context key for the authenticated identity.
const authInfoKey = "sidecar_auth_info"

// SetAuthInfo stores the authenticated identity in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated identity, or nil when the request was
// not authenticated.
//
// # Examples
//
//	info := middleware.GetAuthInfo(c)
//	if info == nil {
//	    c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
//	    return
//	}
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware authenticates requests with provider.
//
// # Description
//
// Reads "Authorization: Bearer <token>" (scheme case-insensitive). A missing
// or malformed header passes an empty token to the provider, which decides
// whether anonymous access is allowed. Any provider error aborts with 401.
//
// # Inputs
//
//   - provider: Token validator. Must not be nil.
//
// # Examples
//
//	review := router.Group("/v1/review")
//	review.Use(middleware.AuthMiddleware(opts.AuthProvider))
//
// # Thread Safety
//
// The returned handler is safe for concurrent use if provider is.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			msg := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				msg = "unauthorized"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		if authInfo == nil || authInfo.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated identity has role.
// It must run after AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !info.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// extractBearerToken returns the bearer token, or "" when the header is
// missing or uses another scheme.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
