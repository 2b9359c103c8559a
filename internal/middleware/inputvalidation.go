// Package middleware provides HTTP middleware for the realtime collaboration server.
// This file implements comprehensive input validation and sanitization.
//
// Purpose:
// The input validation middleware protects against injection attacks by validating
// and sanitizing all user input including query parameters, path parameters, and
// request bodies. This prevents SQL injection, XSS, command injection, LDAP injection,
// and path traversal attacks.
//
// Implementation Details:
// - Path validation: Detects path traversal patterns (../, %2e%2e, etc.)
// - Query parameter validation: Checks for injection patterns in all query strings
// - JSON sanitization: Recursively strips markup from nested objects and arrays
// - Format validation: Validates model-root components
// - Length limits: Prevents buffer overflow with 10KB max input size
// - Pattern detection: Regex-based detection of SQL, command, and LDAP injection attempts
//
// Security Notes:
// This middleware provides defense-in-depth against common web vulnerabilities:
// - SQL Injection: Detects UNION, SELECT, DROP, etc. patterns
// - XSS (Cross-Site Scripting): Markup stripping removes tags and script vectors
// - Command Injection: Blocks shell metacharacters (;, |, &, backticks, $())
// - LDAP Injection: Detects LDAP special characters when used in combinations
// - Path Traversal: Prevents directory traversal attacks (../, ..\, null bytes)
// - Buffer Overflow: Enforces 10KB limit on input values
//
// Thread Safety:
// Safe for concurrent use. Each request gets its own validation context.
//
// Usage:
//   // Basic input validation on all routes; parameters carrying opaque
//   // credentials (signed tickets) are named as exemptions
//   validator := middleware.NewInputValidator()
//   router.Use(validator.Middleware("ticket"))
//
//   // JSON sanitization for API endpoints
//   router.Use(validator.SanitizeJSONMiddleware())
package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// InputValidator handles comprehensive input validation and sanitization
type InputValidator struct {
	tagPattern *regexp.Regexp
}

// NewInputValidator creates a new input validator
func NewInputValidator() *InputValidator {
	return &InputValidator{
		// Strips anything tag-shaped; remaining angle brackets are
		// removed separately in SanitizeString.
		tagPattern: regexp.MustCompile(`<[^>]*>`),
	}
}

// Middleware provides input validation for all requests. exemptParams
// names query parameters whose values are opaque credentials (signed
// tickets); their base64url content legitimately trips the raw
// injection patterns and is validated cryptographically downstream
// instead.
func (v *InputValidator) Middleware(exemptParams ...string) gin.HandlerFunc {
	exempt := make(map[string]bool, len(exemptParams))
	for _, p := range exemptParams {
		exempt[p] = true
	}

	return func(c *gin.Context) {
		// Validate path parameters
		if err := v.validatePath(c.Request.URL.Path); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid path",
				"message": err.Error(),
			})
			c.Abort()
			return
		}

		// Validate query parameters
		for key, values := range c.Request.URL.Query() {
			if exempt[key] {
				continue
			}
			for _, value := range values {
				if err := v.validateInput(key, value); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{
						"error":   "Invalid query parameter",
						"message": fmt.Sprintf("Parameter '%s': %s", key, err.Error()),
					})
					c.Abort()
					return
				}
			}
		}

		c.Next()
	}
}

// SanitizeJSONMiddleware sanitizes JSON request bodies
func (v *InputValidator) SanitizeJSONMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only process JSON requests
		if c.ContentType() != "application/json" {
			c.Next()
			return
		}

		// Read and preserve the request body
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Next()
			return
		}

		// Restore the body for handlers to read
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		// Try to parse as JSON map
		var data map[string]interface{}
		if err := json.Unmarshal(bodyBytes, &data); err != nil {
			// If it's not a map, let it pass to the handler which will validate properly
			c.Next()
			return
		}

		// Sanitize the data
		sanitized := v.sanitizeMap(data)

		// Expose the sanitized copy in the context; the request body
		// itself stays as received
		c.Set("sanitized_json", sanitized)
		c.Next()
	}
}

// validatePath checks for path traversal attempts
func (v *InputValidator) validatePath(path string) error {
	// Check for path traversal patterns
	pathTraversalPatterns := []string{
		"../",
		"..\\",
		"/..",
		"\\..",
		"%2e%2e",
		"%252e%252e",
		"..%2f",
		"..%5c",
	}

	lowerPath := strings.ToLower(path)
	for _, pattern := range pathTraversalPatterns {
		if strings.Contains(lowerPath, pattern) {
			return fmt.Errorf("path traversal attempt detected")
		}
	}

	// Check for null bytes (file system attacks)
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte detected in path")
	}

	return nil
}

// validateInput performs comprehensive input validation
func (v *InputValidator) validateInput(key, value string) error {
	// Check length (prevent buffer overflow attacks)
	if len(value) > 10000 {
		return fmt.Errorf("value too long (max 10000 characters)")
	}

	// Check for null bytes
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte detected")
	}

	// Check for SQL injection patterns
	if err := v.checkSQLInjection(value); err != nil {
		return err
	}

	// Check for command injection patterns
	if err := v.checkCommandInjection(value); err != nil {
		return err
	}

	// Check for LDAP injection patterns
	if err := v.checkLDAPInjection(value); err != nil {
		return err
	}

	return nil
}

// checkSQLInjection detects common SQL injection patterns
func (v *InputValidator) checkSQLInjection(value string) error {
	// Common SQL injection patterns
	sqlPatterns := []string{
		`(?i)(union\s+select)`,
		`(?i)(select\s+.*\s+from)`,
		`(?i)(insert\s+into)`,
		`(?i)(delete\s+from)`,
		`(?i)(drop\s+table)`,
		`(?i)(update\s+.*\s+set)`,
		`(?i)(exec\s*\()`,
		`(?i)(execute\s*\()`,
		`(?i)(script\s*>)`,
		`(?i)(javascript:)`,
		`(?i)(onerror\s*=)`,
		`(?i)(onload\s*=)`,
		`--`,  // SQL comment
		`#`,   // MySQL comment (any '#' is flagged)
		`/\*`, // SQL block comment
	}

	for _, pattern := range sqlPatterns {
		matched, err := regexp.MatchString(pattern, value)
		if err != nil {
			continue
		}
		if matched {
			return fmt.Errorf("potential SQL injection detected")
		}
	}

	return nil
}

// checkCommandInjection detects command injection attempts
func (v *InputValidator) checkCommandInjection(value string) error {
	// Command injection patterns
	commandPatterns := []string{
		`[;&|]`, // Command separators
		"`",     // Backticks for command substitution
		`\$\(`,  // Command substitution
	}

	for _, pattern := range commandPatterns {
		matched, err := regexp.MatchString(pattern, value)
		if err != nil {
			continue
		}
		if matched {
			return fmt.Errorf("potential command injection detected")
		}
	}

	return nil
}

// checkLDAPInjection detects LDAP injection attempts
func (v *InputValidator) checkLDAPInjection(value string) error {
	// LDAP injection characters
	ldapChars := []string{"*", "(", ")", "\\", "/", "\x00"}

	for _, char := range ldapChars {
		if strings.Contains(value, char) {
			// Only flag if there are multiple special chars (to avoid false positives)
			specialCount := 0
			for _, c := range ldapChars {
				if strings.Contains(value, c) {
					specialCount++
				}
			}
			if specialCount >= 2 {
				return fmt.Errorf("potential LDAP injection detected")
			}
		}
	}

	return nil
}

// sanitizeMap recursively sanitizes a map
func (v *InputValidator) sanitizeMap(data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for key, value := range data {
		switch val := value.(type) {
		case string:
			result[key] = v.SanitizeString(val)
		case map[string]interface{}:
			// Recursively sanitize nested maps
			result[key] = v.sanitizeMap(val)
		case []interface{}:
			// Sanitize arrays
			result[key] = v.sanitizeArray(val)
		default:
			// Keep other types as-is (numbers, booleans, etc.)
			result[key] = value
		}
	}

	return result
}

// sanitizeArray recursively sanitizes an array
func (v *InputValidator) sanitizeArray(data []interface{}) []interface{} {
	result := make([]interface{}, len(data))

	for i, value := range data {
		switch val := value.(type) {
		case string:
			result[i] = v.SanitizeString(val)
		case map[string]interface{}:
			result[i] = v.sanitizeMap(val)
		case []interface{}:
			result[i] = v.sanitizeArray(val)
		default:
			result[i] = value
		}
	}

	return result
}

// ValidateModelRootComponent validates one component of a model-root
// identifier (namespace or workspace) as supplied to the host endpoint.
func ValidateModelRootComponent(component string) error {
	if len(component) == 0 {
		return fmt.Errorf("model-root component cannot be empty")
	}
	if len(component) > 253 {
		return fmt.Errorf("model-root component too long (max 253 characters)")
	}

	// Lowercase DNS-label-like segments separated by dots
	valid := regexp.MustCompile(`^[a-z0-9]([-a-z0-9_]*[a-z0-9])?(\.[a-z0-9]([-a-z0-9_]*[a-z0-9])?)*$`)
	if !valid.MatchString(component) {
		return fmt.Errorf("invalid model-root component format")
	}

	return nil
}

// SanitizeString removes HTML markup and dangerous characters from a string
func (v *InputValidator) SanitizeString(input string) string {
	out := v.tagPattern.ReplaceAllString(input, "")
	out = strings.ReplaceAll(out, "<", "")
	out = strings.ReplaceAll(out, ">", "")
	return out
}
