package security

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds configuration for HTTP hardening headers
type SecurityHeadersConfig struct {
	// Content Security Policy
	CSPDirectives map[string][]string

	// HSTS configuration
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	// CORS configuration
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration

	// Permissions Policy
	PermissionsPolicy map[string][]string

	// Additional security headers
	ReferrerPolicy        string
	XFrameOptions         string
	XContentTypeOptions   bool
	XDNSPrefetchControl   bool
	XPermittedCrossDomain string
}

// DefaultSecurityHeadersConfig returns the default policy for the ops API.
// The surface serves JSON and exported reports only, so the CSP allows
// nothing beyond same-origin fetches.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		CSPDirectives: map[string][]string{
			"default-src": {"'self'"},
			"object-src":  {"'none'"},
			"frame-src":   {"'none'"},
			"base-uri":    {"'self'"},
			"form-action": {"'self'"},
		},
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		HSTSPreload:           true,
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"https://*.flowledger.io",
		},
		AllowedMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS",
		},
		AllowedHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Requested-With", "X-Request-ID",
		},
		ExposedHeaders: []string{
			"X-Request-ID", "X-RateLimit-Remaining", "X-Verification-Token",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		PermissionsPolicy: map[string][]string{
			"camera":      {"'none'"},
			"microphone":  {"'none'"},
			"geolocation": {"'none'"},
			"payment":     {"'none'"},
			"usb":         {"'none'"},
		},
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		XFrameOptions:         "DENY",
		XContentTypeOptions:   true,
		XDNSPrefetchControl:   false,
		XPermittedCrossDomain: "none",
	}
}

// SecurityHeadersMiddleware returns a Gin middleware that sets hardening headers
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(config.CSPDirectives) > 0 {
			c.Header("Content-Security-Policy", buildCSP(config.CSPDirectives))
		}

		if config.HSTSMaxAge > 0 {
			c.Header("Strict-Transport-Security",
				buildHSTS(config.HSTSMaxAge, config.HSTSIncludeSubdomains, config.HSTSPreload))
		}

		if len(config.PermissionsPolicy) > 0 {
			c.Header("Permissions-Policy", buildPermissionsPolicy(config.PermissionsPolicy))
		}

		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}

		if config.XFrameOptions != "" {
			c.Header("X-Frame-Options", config.XFrameOptions)
		}

		if config.XContentTypeOptions {
			c.Header("X-Content-Type-Options", "nosniff")
		}

		if config.XDNSPrefetchControl {
			c.Header("X-DNS-Prefetch-Control", "on")
		} else {
			c.Header("X-DNS-Prefetch-Control", "off")
		}

		if config.XPermittedCrossDomain != "" {
			c.Header("X-Permitted-Cross-Domain-Policies", config.XPermittedCrossDomain)
		}

		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("X-Robots-Tag", "noindex, nofollow, nosnippet, noarchive")
		c.Header("Server", "FlowLedger")

		c.Next()
	}
}

// CORSMiddleware returns a CORS middleware with the given configuration
func CORSMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     config.AllowedMethods,
		AllowHeaders:     config.AllowedHeaders,
		ExposeHeaders:    config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}

	// gin-contrib/cors rejects wildcard entries in AllowOrigins, so
	// subdomain patterns go through AllowOriginFunc instead.
	if containsWildcard(config.AllowedOrigins) {
		corsConfig.AllowOriginFunc = func(origin string) bool {
			return isOriginAllowed(origin, config.AllowedOrigins)
		}
		corsConfig.AllowOrigins = nil
	}

	return cors.New(corsConfig)
}

// buildCSP constructs a Content Security Policy header value
func buildCSP(directives map[string][]string) string {
	var parts []string
	for directive, sources := range directives {
		if len(sources) > 0 {
			parts = append(parts, directive+" "+strings.Join(sources, " "))
		}
	}
	return strings.Join(parts, "; ")
}

// buildHSTS constructs an HSTS header value
func buildHSTS(maxAge int, includeSubdomains, preload bool) string {
	hsts := fmt.Sprintf("max-age=%d", maxAge)
	if includeSubdomains {
		hsts += "; includeSubDomains"
	}
	if preload {
		hsts += "; preload"
	}
	return hsts
}

// buildPermissionsPolicy constructs a Permissions Policy header value
func buildPermissionsPolicy(policies map[string][]string) string {
	var parts []string
	for feature, allowlist := range policies {
		if len(allowlist) > 0 {
			parts = append(parts, feature+"=("+strings.Join(allowlist, " ")+")")
		}
	}
	return strings.Join(parts, ", ")
}

// containsWildcard checks if any origin contains a wildcard
func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if strings.Contains(origin, "*") {
			return true
		}
	}
	return false
}

// isOriginAllowed checks if an origin is allowed based on patterns
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if matchOrigin(origin, allowed) {
			return true
		}
	}
	return false
}

// matchOrigin checks if an origin matches a pattern (supports subdomain wildcards)
func matchOrigin(origin, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if !strings.Contains(pattern, "*") {
		return origin == pattern
	}

	if strings.HasPrefix(pattern, "https://*.") {
		domain := pattern[10:]
		return strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain
	}

	if strings.HasPrefix(pattern, "http://*.") {
		domain := pattern[9:]
		return strings.HasSuffix(origin, "."+domain) || origin == "http://"+domain
	}

	return false
}

// RequestSizeMiddleware limits the size of request bodies
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":    "request body too large",
				"max_size": maxSize,
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
