// Package modelroute implements wildcard model-pattern matching, effective
// model substitution and the model-support predicate, ported from
// original_source/src/model_routing.rs.
package modelroute

import "strings"

// MatchWildcard reports whether pattern (a literal, or a string containing
// exactly one '*') matches model. A literal pattern requires exact
// equality.
func MatchWildcard(pattern, model string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == model
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	if len(model) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(model, prefix) && strings.HasSuffix(model, suffix)
}

// Specificity scores a wildcard pattern by len(prefix)+len(suffix); larger
// is more specific. Callers should only compare specificity between
// patterns already known to match the same model.
func Specificity(pattern string) int {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return len(pattern)
	}
	return star + (len(pattern) - star - 1)
}

// ApplyWildcardMapping substitutes the segment of model matched by
// pattern's '*' into the first '*' of replacement. If pattern has no
// wildcard, replacement is returned unchanged.
func ApplyWildcardMapping(pattern, replacement, model string) string {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return replacement
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	if len(model) < len(prefix)+len(suffix) || !strings.HasPrefix(model, prefix) || !strings.HasSuffix(model, suffix) {
		return replacement
	}
	matched := model[len(prefix) : len(model)-len(suffix)]
	return strings.Replace(replacement, "*", matched, 1)
}

// EffectiveModel computes the rewritten model name for requestedModel given
// an upstream's model_mapping. A literal key match wins outright over any
// wildcard match; among wildcard matches, the most specific wins. If
// mapping is empty or nothing matches, requestedModel is returned
// unchanged alongside changed=false.
func EffectiveModel(requestedModel string, mapping map[string]string) (result string, changed bool) {
	if len(mapping) == 0 {
		return requestedModel, false
	}
	if replacement, ok := mapping[requestedModel]; ok {
		return ApplyWildcardMapping(requestedModel, replacement, requestedModel), true
	}

	bestSpecificity := -1
	bestPattern, bestReplacement := "", ""
	found := false
	for pattern, replacement := range mapping {
		if !strings.Contains(pattern, "*") {
			continue
		}
		if !MatchWildcard(pattern, requestedModel) {
			continue
		}
		sp := Specificity(pattern)
		if sp > bestSpecificity {
			bestSpecificity, bestPattern, bestReplacement = sp, pattern, replacement
			found = true
		}
	}
	if !found {
		return requestedModel, false
	}
	return ApplyWildcardMapping(bestPattern, bestReplacement, requestedModel), true
}

// IsModelSupported implements the S2 model-support predicate: if both
// supportedModels and mapping are empty, every model is supported. Else a
// model is supported if it matches (literally or by wildcard) any entry of
// supportedModels, or any key of mapping.
func IsModelSupported(requestedModel string, supportedModels []string, mapping map[string]string) bool {
	if len(supportedModels) == 0 && len(mapping) == 0 {
		return true
	}
	for _, pattern := range supportedModels {
		if MatchWildcard(pattern, requestedModel) {
			return true
		}
	}
	for pattern := range mapping {
		if MatchWildcard(pattern, requestedModel) {
			return true
		}
	}
	return false
}
