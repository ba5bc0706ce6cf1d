package middleware

import (
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// SQLInjectionPatterns contains regex patterns for SQL injection detection
var SQLInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(union\s+(all\s+)?select)`),
	regexp.MustCompile(`(?i)(select\s+.+\s+from)`),
	regexp.MustCompile(`(?i)(insert\s+into)`),
	regexp.MustCompile(`(?i)(update\s+.+\s+set)`),
	regexp.MustCompile(`(?i)(delete\s+from)`),
	regexp.MustCompile(`(?i)(drop\s+(table|database))`),
	regexp.MustCompile(`(?i)(alter\s+table)`),
	regexp.MustCompile(`(?i)(exec(ute)?(\s|\+)+(s|x)p\w+)`),
	regexp.MustCompile(`(?i)(--)`),
	regexp.MustCompile(`(?i)(;.*--)`),
	regexp.MustCompile(`(?i)(/\*.*\*/)`),
}

// XSSPatterns contains regex patterns for XSS detection
var XSSPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)<iframe[^>]*>`),
}

// InputValidator validates and sanitizes request paths and query strings.
// The daemon's API body is always machine-generated JSON, but the path and
// query still come from whatever network-reachable client holds an adapter
// token, so they get the same scrutiny as a public API would.
type InputValidator struct {
	maxQueryLen    int
	maxPathLen     int
	blocklistPaths []string
}

// NewInputValidator creates a new InputValidator.
func NewInputValidator() *InputValidator {
	return &InputValidator{
		maxQueryLen: 2048,
		maxPathLen:  1024,
		blocklistPaths: []string{
			"...", "..\\", "../", "/..", "\\..",
			"/etc/", "/proc/", "/sys/",
			".git", ".env",
		},
	}
}

// ValidateRequest rejects requests with oversized or suspicious paths and
// query parameters before they reach a handler.
func (v *InputValidator) ValidateRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(c.Request.URL.Path) > v.maxPathLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "PATH_TOO_LONG", "message": "request path too long"},
			})
			return
		}

		if len(c.Request.URL.RawQuery) > v.maxQueryLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"code": "QUERY_TOO_LONG", "message": "query string too long"},
			})
			return
		}

		path := c.Request.URL.Path
		for _, blocked := range v.blocklistPaths {
			if strings.Contains(path, blocked) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": gin.H{"code": "INVALID_PATH", "message": "invalid path detected"},
				})
				return
			}
		}

		for key, values := range c.Request.URL.Query() {
			for _, value := range values {
				if v.containsSQLInjection(value) || v.containsXSS(value) {
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
						"error": gin.H{
							"code":    "MALICIOUS_INPUT",
							"message": fmt.Sprintf("invalid input detected in parameter: %s", key),
						},
					})
					return
				}
			}
		}

		c.Next()
	}
}

func (v *InputValidator) containsSQLInjection(input string) bool {
	for _, pattern := range SQLInjectionPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

func (v *InputValidator) containsXSS(input string) bool {
	for _, pattern := range XSSPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// SanitizeString escapes HTML and strips control characters from input
// that ends up echoed back in a response (e.g. an activity note).
func SanitizeString(input string) string {
	sanitized := html.EscapeString(input)
	sanitized = strings.ReplaceAll(sanitized, "\x00", "")

	var result strings.Builder
	for _, r := range sanitized {
		if r >= 32 || r == '\t' || r == '\n' || r == '\r' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SecurityHeadersConfig holds security header configuration.
type SecurityHeadersConfig struct {
	ContentSecurityPolicy   string
	XContentTypeOptions     string
	XFrameOptions           string
	StrictTransportSecurity string
	ReferrerPolicy          string
}

// DefaultSecurityHeadersConfig returns the daemon's default security headers.
func DefaultSecurityHeadersConfig() *SecurityHeadersConfig {
	return &SecurityHeadersConfig{
		ContentSecurityPolicy:   "default-src 'none'",
		XContentTypeOptions:     "nosniff",
		XFrameOptions:           "DENY",
		StrictTransportSecurity: "max-age=31536000; includeSubDomains",
		ReferrerPolicy:          "strict-origin-when-cross-origin",
	}
}

// SecureHeaders returns a middleware that adds security headers appropriate
// for a machine-to-machine JSON API with no rendered pages.
func SecureHeaders() gin.HandlerFunc {
	config := DefaultSecurityHeadersConfig()
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", config.ContentSecurityPolicy)
		c.Header("X-Content-Type-Options", config.XContentTypeOptions)
		c.Header("X-Frame-Options", config.XFrameOptions)
		c.Header("Strict-Transport-Security", config.StrictTransportSecurity)
		c.Header("Referrer-Policy", config.ReferrerPolicy)
		c.Next()
	}
}
