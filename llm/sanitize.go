// Copyright 2025 FieldLine
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

package llm

import "regexp"

// Redacted replaces credential material in sanitized text.
const Redacted = "***REDACTED***"

// Credential patterns scrubbed from every error message and error log line.
// Order matters: structured forms first so the generic key patterns do not
// leave fragments behind.
var sanitizePatterns = []*regexp.Regexp{
	// JSON fields: "api_key": "...", "apiKey":"...", "authorization": "..."
	regexp.MustCompile(`(?i)("(?:api[-_]?key|authorization|x-api-key|access[-_]?token)"\s*:\s*")[^"]*(")`),
	// Header/query forms: api_key=..., apikey: ...
	regexp.MustCompile(`(?i)(\b(?:api[-_]?key|access[-_]?token)\b["']?\s*[:=]\s*["']?)[A-Za-z0-9_\-.~+/]{8,}`),
	// Bearer tokens
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-.~+/]{8,}=*`),
	// OpenAI-style secret keys
	regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{10,}`),
	// Anthropic-style secret keys
	regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{10,}`),
	// AWS access key ids
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
}

// Sanitize scrubs credential material from s. It is applied by the Error
// constructors on every error path; call sites never skip it.
func Sanitize(s string) string {
	for _, re := range sanitizePatterns {
		switch re.NumSubexp() {
		case 2:
			s = re.ReplaceAllString(s, "${1}"+Redacted+"${2}")
		case 1:
			s = re.ReplaceAllString(s, "${1}"+Redacted)
		default:
			s = re.ReplaceAllString(s, Redacted)
		}
	}
	return s
}
