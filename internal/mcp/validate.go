// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"fmt"
	"maps"
	"net/url"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tombee/mcphost/internal/secrets"
)

// ServerNameRegex validates server ids: a leading letter followed by
// letters, digits, hyphens or underscores.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

var (
	envKeyRegex      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	placeholderRegex = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)
)

// shellMetacharacters may not appear in a command or argument once
// ${KEY} placeholders are removed.
const shellMetacharacters = "|&;$`(){}[]<>"

// ValidationResult reports every problem found in a descriptor.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Err returns a validation error listing every problem, or nil.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return ErrInvalidDescriptor(strings.Join(r.Errors, "; "))
}

// ValidateServerName validates an MCP server id.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("server name exceeds 64 character limit")
	}
	if !ServerNameRegex.MatchString(name) {
		return ErrInvalidServerName(name)
	}
	return nil
}

// ValidateArg rejects shell metacharacters in a command or argument.
// ${KEY} placeholders are permitted.
func ValidateArg(arg string) error {
	stripped := placeholderRegex.ReplaceAllString(arg, "")
	if i := strings.IndexAny(stripped, shellMetacharacters); i >= 0 {
		return fmt.Errorf("contains shell metacharacter %q", stripped[i])
	}
	if strings.ContainsAny(stripped, "\n\r") {
		return fmt.Errorf("contains a line break")
	}
	return nil
}

// ValidateEnvKey checks an environment variable name.
func ValidateEnvKey(key string) error {
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %s", key)
	}
	return nil
}

// ValidateDescriptor checks a descriptor before it is stored or connected.
// Problems that would make the server unusable are errors; anything merely
// suspicious is a warning.
func ValidateDescriptor(d ServerDescriptor) ValidationResult {
	var r ValidationResult

	if err := ValidateServerName(d.ID); err != nil {
		r.Errors = append(r.Errors, err.Error())
	}

	switch {
	case d.Transport.Stdio != nil && d.Transport.HTTP != nil:
		r.Errors = append(r.Errors, fmt.Sprintf("Transport for %s has both stdio and http shapes", d.ID))
	case d.Transport.Stdio != nil:
		validateStdio(d.ID, d.Transport.Stdio, &r)
	case d.Transport.HTTP != nil:
		validateHTTP(d.ID, d.Transport.HTTP, &r)
	default:
		r.Errors = append(r.Errors, fmt.Sprintf("Invalid server type for %s: missing transport", d.ID))
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func validateStdio(id string, t *StdioTransport, r *ValidationResult) {
	if t.Command == "" {
		r.Errors = append(r.Errors, fmt.Sprintf("Command cannot be empty for %s", id))
	} else {
		if err := ValidateArg(t.Command); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("Invalid characters in command for %s", id))
		}
		if !strings.Contains(t.Command, "${") && !filepath.IsAbs(t.Command) {
			if _, err := exec.LookPath(t.Command); err != nil {
				r.Warnings = append(r.Warnings, fmt.Sprintf("Command %s not found in PATH", t.Command))
			}
		}
	}

	for _, arg := range t.Args {
		if err := ValidateArg(arg); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("Invalid characters in args for %s", id))
			break
		}
	}

	for key := range t.Env {
		if err := ValidateEnvKey(key); err != nil {
			r.Errors = append(r.Errors, err.Error())
		}
	}

	if t.WorkingDir != "" {
		r.Warnings = append(r.Warnings, "working_dir is rebound from the current root on connect")
	}
}

func validateHTTP(id string, t *HTTPTransport, r *ValidationResult) {
	u, err := url.Parse(t.URL)
	if t.URL == "" || err != nil || u.Host == "" {
		r.Errors = append(r.Errors, fmt.Sprintf("Invalid URL for %s: %q", id, t.URL))
		return
	}
	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s uses plain http to a remote host", id))
		}
	default:
		r.Errors = append(r.Errors, fmt.Sprintf("Invalid URL scheme for %s: %s", id, u.Scheme))
	}

	if t.BearerToken != "" && !secrets.NewDefaultResolver().IsReference(t.BearerToken) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("Bearer token for %s is stored in plain text; use keyring:<name> or env:<VAR>", id))
	}
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH",
}

// IsSensitiveEnvKey returns true if the key appears to contain sensitive data.
func IsSensitiveEnvKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upperKey, pattern) {
			return true
		}
	}
	return false
}

// RedactEnv returns a copy of env with sensitive values replaced.
func RedactEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := maps.Clone(env)
	for k := range out {
		if IsSensitiveEnvKey(k) {
			out[k] = "***REDACTED***"
		}
	}
	return out
}

// RedactHeaders returns a copy of headers with credential values replaced.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := maps.Clone(headers)
	for k := range out {
		if strings.EqualFold(k, "Authorization") || IsSensitiveEnvKey(k) {
			out[k] = "***REDACTED***"
		}
	}
	return out
}
