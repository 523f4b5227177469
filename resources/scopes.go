package resources

import (
	"fmt"
	"strings"
)

// ParsedScopeValue is one requested scope. For a parameterized scope such as
// "transaction:123" ParsedName is "transaction" and ParsedParameter is "123".
type ParsedScopeValue struct {
	RawValue        string `json:"raw_value"`
	ParsedName      string `json:"parsed_name"`
	ParsedParameter string `json:"parsed_parameter,omitempty"`
}

// ParsedScopeError describes a scope that could not be parsed.
type ParsedScopeError struct {
	RawValue string
	Message  string
}

func (e ParsedScopeError) Error() string {
	return fmt.Sprintf("scope %q: %s", e.RawValue, e.Message)
}

// ParsedScopesResult holds the outcome of parsing a scope list.
type ParsedScopesResult struct {
	ParsedScopes []ParsedScopeValue
	Errors       []ParsedScopeError
}

// Succeeded reports whether every value parsed.
func (r ParsedScopesResult) Succeeded() bool {
	return len(r.Errors) == 0
}

// ParseScopeValue splits a raw scope on its first colon.
func ParseScopeValue(raw string) (ParsedScopeValue, error) {
	if raw == "" {
		return ParsedScopeValue{}, ParsedScopeError{RawValue: raw, Message: "empty scope"}
	}
	name, param, found := strings.Cut(raw, ":")
	if !found {
		return ParsedScopeValue{RawValue: raw, ParsedName: raw}, nil
	}
	if name == "" || param == "" {
		return ParsedScopeValue{}, ParsedScopeError{RawValue: raw, Message: "malformed parameterized scope"}
	}
	return ParsedScopeValue{RawValue: raw, ParsedName: name, ParsedParameter: param}, nil
}

// ParseScopeValues parses each requested scope. Duplicate raw values are collapsed and the
// same name requested with two different parameters is an error.
func ParseScopeValues(scopes []string) ParsedScopesResult {
	var result ParsedScopesResult
	seenRaw := make(map[string]struct{}, len(scopes))
	params := make(map[string]string, len(scopes))

	for _, raw := range scopes {
		if _, dup := seenRaw[raw]; dup {
			continue
		}
		seenRaw[raw] = struct{}{}

		parsed, err := ParseScopeValue(raw)
		if err != nil {
			result.Errors = append(result.Errors, err.(ParsedScopeError))
			continue
		}
		if parsed.ParsedParameter != "" {
			if prev, ok := params[parsed.ParsedName]; ok && prev != parsed.ParsedParameter {
				result.Errors = append(result.Errors, ParsedScopeError{
					RawValue: raw,
					Message:  fmt.Sprintf("scope %q already requested with parameter %q", parsed.ParsedName, prev),
				})
				continue
			}
			params[parsed.ParsedName] = parsed.ParsedParameter
		}
		result.ParsedScopes = append(result.ParsedScopes, parsed)
	}
	return result
}

// RawValues returns the raw scope strings, the form that is echoed back to clients.
func RawValues(scopes []ParsedScopeValue) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, s.RawValue)
	}
	return out
}
