// Package rewrite is the Body Rewriter (C6): applies the session effort
// override and per-upstream model mapping to the outgoing JSON body.
package rewrite

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// RequestedModel reads the top-level "model" field of body, or "" if
// absent.
func RequestedModel(body []byte) string {
	return gjson.GetBytes(body, "model").String()
}

// RequestedEffort reads "reasoning.effort" from body, or "" if absent.
func RequestedEffort(body []byte) string {
	return gjson.GetBytes(body, "reasoning.effort").String()
}

// SetEffort sets "reasoning.effort" on body to effort, creating the
// "reasoning" object if it does not already exist.
func SetEffort(body []byte, effort string) ([]byte, error) {
	return sjson.SetBytes(body, "reasoning.effort", effort)
}

// SetModel sets the top-level "model" field on body.
func SetModel(body []byte, model string) ([]byte, error) {
	return sjson.SetBytes(body, "model", model)
}

// Apply performs S3's rewrite step: if effectiveEffort is non-empty and
// differs from the request's own value, set reasoning.effort; if
// modelChanged, set model to effectiveModel. Returns the (possibly
// unmodified) body.
func Apply(body []byte, effectiveEffort string, effectiveModel string, modelChanged bool) ([]byte, error) {
	out := body
	if effectiveEffort != "" && effectiveEffort != RequestedEffort(out) {
		var err error
		out, err = SetEffort(out, effectiveEffort)
		if err != nil {
			return body, err
		}
	}
	if modelChanged {
		var err error
		out, err = SetModel(out, effectiveModel)
		if err != nil {
			return body, err
		}
	}
	return out, nil
}
