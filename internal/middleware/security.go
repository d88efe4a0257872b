// security.go sets protective response headers on every API response.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig selects which protective headers are emitted.
type SecurityHeadersConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int // seconds
	HSTSIncludeSubdomains bool
	FrameOptionsValue     string // empty disables X-Frame-Options
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
	// CrossOriginResource is the Cross-Origin-Resource-Policy value. Badge PNGs
	// are embedded by the student portal on another origin, so the API default
	// is "cross-origin".
	CrossOriginResource string
}

// APISecurityHeadersConfig returns headers for the JSON API. HSTS is only sent
// when the server itself terminates TLS.
func APISecurityHeadersConfig(tlsEnabled bool) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            tlsEnabled,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		FrameOptionsValue:     "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		PermissionsPolicy:     "camera=(), geolocation=(), microphone=()",
		CrossOriginResource:   "cross-origin",
	}
}

// SecurityHeadersMiddleware adds the configured headers before the handler runs,
// so aborted requests carry them too.
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	hsts := ""
	if config.EnableHSTS {
		hsts = "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if hsts != "" {
			h.Set("Strict-Transport-Security", hsts)
		}
		if config.FrameOptionsValue != "" {
			h.Set("X-Frame-Options", config.FrameOptionsValue)
		}
		h.Set("X-Content-Type-Options", "nosniff")
		if config.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", config.ContentSecurityPolicy)
		}
		if config.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", config.ReferrerPolicy)
		}
		if config.PermissionsPolicy != "" {
			h.Set("Permissions-Policy", config.PermissionsPolicy)
		}
		if config.CrossOriginResource != "" {
			h.Set("Cross-Origin-Resource-Policy", config.CrossOriginResource)
		}
		h.Set("X-Permitted-Cross-Domain-Policies", "none")

		c.Next()
	}
}
