// Package orchestrator is the Request Orchestrator (C10): the S0-S7 state
// machine that admits a request, picks an upstream, rewrites and dispatches
// it, classifies the result and retries or relays it back to the client.
package orchestrator

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codex-helper/proxy/internal/authresolve"
	"github.com/codex-helper/proxy/internal/classify"
	"github.com/codex-helper/proxy/internal/config"
	"github.com/codex-helper/proxy/internal/filter"
	"github.com/codex-helper/proxy/internal/lb"
	"github.com/codex-helper/proxy/internal/logsink"
	"github.com/codex-helper/proxy/internal/metrics"
	"github.com/codex-helper/proxy/internal/modelroute"
	"github.com/codex-helper/proxy/internal/rewrite"
	"github.com/codex-helper/proxy/internal/state"
	"github.com/codex-helper/proxy/internal/transport"
	"github.com/codex-helper/proxy/internal/usage"
)

// maxBodyBytes is S0's admission cap (spec §4.2, §8's exact boundary test).
const maxBodyBytes = 10 << 20

// Orchestrator wires every C-numbered collaborator together and exposes
// one Handle per inbound proxy request.
type Orchestrator struct {
	Env        config.Env
	Store      *config.Store
	State      *state.RuntimeState
	LB         *lb.Registry
	Filter     *filter.Filter
	Auth       *authresolve.Resolver
	Transport  *transport.Manager
	Metrics    *metrics.Registry
	Log        *logsink.Sink
	DebugHeaders bool
}

// New returns an Orchestrator composed from its collaborators.
func New(env config.Env, store *config.Store, st *state.RuntimeState, lbReg *lb.Registry, f *filter.Filter, auth *authresolve.Resolver, tm *transport.Manager, mx *metrics.Registry, sink *logsink.Sink, debugHeaders bool) *Orchestrator {
	return &Orchestrator{
		Env: env, Store: store, State: st, LB: lbReg, Filter: f, Auth: auth,
		Transport: tm, Metrics: mx, Log: sink, DebugHeaders: debugHeaders,
	}
}

// managerFor returns the config.Manager for a proxy service name ("codex"
// or "claude").
func (o *Orchestrator) managerFor(snap *config.Snapshot, service string) *config.Manager {
	return snap.ManagerFor(service)
}

func authServiceFor(service string) authresolve.Service {
	if service == "claude" {
		return authresolve.ServiceClaude
	}
	return authresolve.ServiceCodex
}

func (o *Orchestrator) auxFilePathFor(service string) string {
	if service == "claude" {
		return o.Env.ClaudeSettingsJSONPath
	}
	return o.Env.CodexAuthJSONPath
}

// Handle implements the full S0-S7 pipeline for one inbound request to
// path under service ("codex" or "claude").
func (o *Orchestrator) Handle(w http.ResponseWriter, r *http.Request, service string) {
	start := time.Now()
	traceID := uuid.NewString()

	// --- S0: Admit ---------------------------------------------------
	sessionID := r.Header.Get("session_id")
	if sessionID == "" {
		sessionID = r.Header.Get("conversation_id")
	}

	limited := http.MaxBytesReader(w, r.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil || len(body) > maxBodyBytes {
		o.finishSynthesized(w, r, service, sessionID, "", traceID, start, 0, nil,
			http.StatusBadRequest, ClassClientBodyReadError)
		return
	}

	nowMs := start.UnixMilli()
	cwd, _ := o.State.ResolveCwd(sessionID, nowMs)

	requestedModel := rewrite.RequestedModel(body)
	requestedEffort := rewrite.RequestedEffort(body)

	reqID := o.State.BeginRequest(state.ActiveRequest{
		Service:         service,
		Method:          r.Method,
		Path:            r.URL.Path,
		SessionID:       sessionID,
		Cwd:             cwd,
		Model:           requestedModel,
		ReasoningEffort: requestedEffort,
		StartedAtMs:     nowMs,
	})

	if sessionID != "" {
		o.State.TouchEffortOverride(sessionID, nowMs)
		o.State.TouchConfigOverride(sessionID, nowMs)
	}

	snap := o.Store.Current()
	mgr := o.managerFor(snap, service)
	if mgr == nil {
		o.finishSynthesized(w, r, service, sessionID, cwd, traceID, start, reqID, nil,
			http.StatusBadGateway, ClassNoActiveUpstreamConfig)
		return
	}

	pinned := resolvePin(o.State, sessionID)
	lbList := pickLBSet(mgr, service, pinned, o.State)
	if len(lbList) == 0 {
		o.finishSynthesized(w, r, service, sessionID, cwd, traceID, start, reqID, nil,
			http.StatusBadGateway, ClassNoActiveUpstreamConfig)
		return
	}

	effectiveEffort := requestedEffort
	if sessionID != "" {
		if ov, ok := o.State.GetEffortOverride(sessionID); ok && ov != "" {
			effectiveEffort = ov
		}
	}

	acceptsSSE := strings.Contains(r.Header.Get("Accept"), "text/event-stream")

	o.runAttempts(w, r, service, sessionID, cwd, traceID, start, reqID, snap, lbList, body,
		requestedModel, effectiveEffort, acceptsSSE)
}

// runAttempts implements S2-S7's dispatch/classify/retry loop.
func (o *Orchestrator) runAttempts(w http.ResponseWriter, r *http.Request, service, sessionID, cwd, traceID string, start time.Time, reqID uint64, snap *config.Snapshot, lbList []*config.ServiceConfig, originalBody []byte, requestedModel, effectiveEffort string, acceptsSSE bool) {
	policy := snap.Retry
	avoidSets := make(map[string]map[int]bool)
	var upstreamChain []string

	for attempt := 1; attempt <= maxInt(policy.MaxAttempts, 1); attempt++ {
		sel, cfg, ok := pickUpstream(o.LB, lbList, avoidSets, requestedModel, policy)
		if !ok {
			class := ClassNoUpstreamsSupportModel
			status := http.StatusBadGateway
			if attempt > 1 {
				class = ClassRetryExhausted
			} else if requestedModel != "" {
				status = http.StatusNotFound
			}
			o.finishSynthesized(w, r, service, sessionID, cwd, traceID, start, reqID,
				&state.RetryInfo{Attempts: attempt - 1, UpstreamChain: upstreamChain},
				status, class)
			return
		}

		providerID := providerIDFor(sel)
		o.State.UpdateRequestRoute(reqID, cfg.Name, providerID, sel.Upstream.BaseURL)
		upstreamChain = append(upstreamChain, providerID)

		effectiveModel, modelChanged := modelroute.EffectiveModel(requestedModel, sel.Upstream.ModelMapping)
		rewritten, err := rewrite.Apply(originalBody, effectiveEffort, effectiveModel, modelChanged)
		if err != nil {
			rewritten = originalBody
		}
		rewritten = o.Filter.Apply(rewritten)

		targetURL, err := buildTargetURL(sel.Upstream.BaseURL, r.URL.Path, r.URL.RawQuery)
		if err != nil {
			done := o.handleAttemptFailure(w, r, service, sessionID, cwd, traceID, start, reqID,
				cfg, sel, policy, ClassTargetBuildError, 0, attempt, upstreamChain, avoidSets)
			if done {
				return
			}
			continue
		}

		client, err := o.Transport.ClientFor(sel.Upstream.BaseURL)
		if err != nil {
			done := o.handleAttemptFailure(w, r, service, sessionID, cwd, traceID, start, reqID,
				cfg, sel, policy, ClassTargetBuildError, 0, attempt, upstreamChain, avoidSets)
			if done {
				return
			}
			continue
		}

		outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(rewritten))
		if err != nil {
			done := o.handleAttemptFailure(w, r, service, sessionID, cwd, traceID, start, reqID,
				cfg, sel, policy, ClassTargetBuildError, 0, attempt, upstreamChain, avoidSets)
			if done {
				return
			}
			continue
		}
		outReq.Header = copyForward(r.Header)

		svc := authServiceFor(service)
		auxPath := o.auxFilePathFor(service)
		if tok := o.Auth.ResolveToken(svc, sel.Upstream.Auth, auxPath, r.Header.Get("Authorization")); tok.Value != "" {
			outReq.Header.Set("Authorization", bearerValue(tok.Value))
		}
		if key := o.Auth.ResolveAPIKey(svc, sel.Upstream.Auth, auxPath, r.Header.Get("X-Api-Key")); key.Value != "" {
			outReq.Header.Set("X-Api-Key", key.Value)
		}

		resp, err := client.Do(outReq)
		if err != nil {
			done := o.handleAttemptFailure(w, r, service, sessionID, cwd, traceID, start, reqID,
				cfg, sel, policy, ClassUpstreamTransportError, 0, attempt, upstreamChain, avoidSets)
			if done {
				return
			}
			continue
		}

		// --- S5: Observe ---------------------------------------------
		if isSSEEligible(acceptsSSE, resp) {
			o.LB.RecordResult(cfg, sel.Index, true, policy)
			o.relayAndFinishStream(w, r, service, sessionID, cwd, traceID, start, reqID, cfg, sel, policy, resp, attempt, upstreamChain)
			return
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			done := o.handleAttemptFailure(w, r, service, sessionID, cwd, traceID, start, reqID,
				cfg, sel, policy, ClassUpstreamBodyReadError, resp.StatusCode, attempt, upstreamChain, avoidSets)
			if done {
				return
			}
			continue
		}

		result := classify.Response(resp.StatusCode, resp.Header, respBody)
		effectiveClass := string(result.Class)

		failureCondition := config.StatusMatches(resp.StatusCode, policy.OnStatus) || effectiveClass != ""
		if failureCondition {
			o.LB.RecordResult(cfg, sel.Index, false, policy)
			if secs, ok := classCooldownSecs(effectiveClass, policy); ok {
				o.LB.Penalize(cfg, sel.Index, secs, effectiveClass)
			}
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			o.LB.RecordResult(cfg, sel.Index, true, policy)
		}

		retryConditionMet := config.StatusMatches(resp.StatusCode, policy.OnStatus) || classInSet(effectiveClass, policy.OnClass)
		if retryConditionMet && attempt < maxInt(policy.MaxAttempts, 1) {
			avoidSets[cfg.Name][sel.Index] = true
			time.Sleep(backoffDuration(attempt, policy))
			continue
		}
		if retryConditionMet {
			o.finishSynthesized(w, r, service, sessionID, cwd, traceID, start, reqID,
				&state.RetryInfo{Attempts: attempt, UpstreamChain: upstreamChain},
				http.StatusBadGateway, ClassRetryExhausted)
			return
		}

		// Passthrough: relay the real response verbatim.
		copyResponseHeaders(w, resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(respBody)

		um, _ := usage.FromBytes(respBody)
		var umPtr *usage.Metrics
		if um != (usage.Metrics{}) {
			umPtr = &um
		}
		o.finish(r, service, sessionID, cwd, traceID, start, reqID, cfg.Name, providerID, sel.Upstream.BaseURL,
			resp.StatusCode, effectiveClass, result.CfRay, umPtr,
			&state.RetryInfo{Attempts: attempt, UpstreamChain: upstreamChain})
		return
	}
}

// handleAttemptFailure handles a non-HTTP failure (transport, body-read,
// target-build): it records an LB failure, applies the class's cooldown and
// retries only when class is in on_class; on_status is not consulted. It
// returns done=true if it already wrote the client response and the caller
// must return.
func (o *Orchestrator) handleAttemptFailure(w http.ResponseWriter, r *http.Request, service, sessionID, cwd, traceID string, start time.Time, reqID uint64, cfg *config.ServiceConfig, sel lb.Selected, policy config.RetryPolicy, class string, status int, attempt int, upstreamChain []string, avoidSets map[string]map[int]bool) bool {
	o.LB.RecordResult(cfg, sel.Index, false, policy)
	if secs, ok := classCooldownSecs(class, policy); ok {
		o.LB.Penalize(cfg, sel.Index, secs, class)
	}
	retryConditionMet := classInSet(class, policy.OnClass)
	if retryConditionMet && attempt < maxInt(policy.MaxAttempts, 1) {
		avoidSets[cfg.Name][sel.Index] = true
		time.Sleep(backoffDuration(attempt, policy))
		return false
	}
	finalClass := class
	finalStatus := http.StatusBadGateway
	if retryConditionMet {
		finalClass = ClassRetryExhausted
	}
	o.finishSynthesized(w, r, service, sessionID, cwd, traceID, start, reqID,
		&state.RetryInfo{Attempts: attempt, UpstreamChain: upstreamChain},
		finalStatus, finalClass)
	return true
}

// relayAndFinishStream writes and flushes resp's status and headers to the
// client, runs S6 to completion and then finishes the request bookkeeping exactly once, regardless of whether the
// client disconnected mid-stream or the upstream body simply ended.
func (o *Orchestrator) relayAndFinishStream(w http.ResponseWriter, r *http.Request, service, sessionID, cwd, traceID string, start time.Time, reqID uint64, cfg *config.ServiceConfig, sel lb.Selected, policy config.RetryPolicy, resp *http.Response, attempt int, upstreamChain []string) {
	copyResponseHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	outcome := relayStream(w, resp, flusher)
	resp.Body.Close()

	if outcome.transportErrClass != "" {
		recordStreamFailure(o.LB, cfg, sel.Index, policy)
	}

	providerID := providerIDFor(sel)
	o.finish(r, service, sessionID, cwd, traceID, start, reqID, cfg.Name, providerID, sel.Upstream.BaseURL,
		resp.StatusCode, outcome.transportErrClass, "", outcome.usage,
		&state.RetryInfo{Attempts: attempt, UpstreamChain: upstreamChain})
}

// finishSynthesized writes a locally-generated error response, then
// finishes the request's bookkeeping.
func (o *Orchestrator) finishSynthesized(w http.ResponseWriter, r *http.Request, service, sessionID, cwd, traceID string, start time.Time, reqID uint64, retry *state.RetryInfo, status int, class string) {
	status = writeSynthesizedError(w, status, class, classMessage(class), traceID)
	o.finish(r, service, sessionID, cwd, traceID, start, reqID, "", "", "", status, class, "", nil, retry)
}

// finish records the outcome in Runtime State, the log sink and the
// metrics registry, exactly once per request.
func (o *Orchestrator) finish(r *http.Request, service, sessionID, cwd, traceID string, start time.Time, reqID uint64, configName, providerID, baseURL string, status int, class, cfRay string, um *usage.Metrics, retry *state.RetryInfo) {
	durationMs := time.Since(start).Milliseconds()
	endedAtMs := time.Now().UnixMilli()

	o.State.FinishRequest(reqID, status, durationMs, endedAtMs, um, retry)

	var usageRaw, retryRaw []byte
	if um != nil {
		usageRaw, _ = marshalQuiet(um)
	}
	if retry != nil {
		retryRaw, _ = marshalQuiet(retry)
	}
	var dbg *logsink.HTTPDebug
	if o.DebugHeaders || class != "" {
		dbg = &logsink.HTTPDebug{TraceID: traceID, UpstreamErrClass: class, CfRay: cfRay}
		if o.DebugHeaders {
			dbg.RequestHeaders = redactHeaders(r.Header)
		}
	}
	o.Log.Write(logsink.Line{
		TimestampMs:     start.UnixMilli(),
		Service:         service,
		Method:          r.Method,
		Path:            r.URL.Path,
		StatusCode:      status,
		DurationMs:      durationMs,
		ConfigName:      configName,
		ProviderID:      providerID,
		UpstreamBaseURL: baseURL,
		SessionID:       sessionID,
		Cwd:             cwd,
		Usage:           usageRaw,
		Retry:           retryRaw,
		HTTPDebug:       dbg,
	})

	if o.Metrics != nil {
		o.Metrics.ObserveRequest(service, statusBucket(status), class, time.Since(start).Seconds())
	}
}

// providerIDFor derives a stable provider identity from a selected
// upstream: its tags["provider_id"] if the operator set one, else the
// upstream's base-URL host, which is always present and unique enough to
// distinguish upstreams sharing one service config.
func providerIDFor(sel lb.Selected) string {
	if v, ok := sel.Upstream.Tags["provider_id"]; ok && v != "" {
		return v
	}
	if u, err := url.Parse(sel.Upstream.BaseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return sel.Upstream.BaseURL
}

// buildTargetURL joins an upstream's base URL with the inbound request
// path, de-duplicating the base URL's own path prefix so that a base URL
// of "https://api.example.com/v1" plus an inbound path of "/v1/responses"
// doesn't double up the "/v1" segment.
func buildTargetURL(baseURL, reqPath, rawQuery string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(u.Path, "/")
	path := reqPath
	if base != "" && strings.HasPrefix(path, base) {
		path = strings.TrimPrefix(path, base)
	}
	u.Path = base + path
	u.RawQuery = rawQuery
	return u.String(), nil
}

func bearerValue(v string) string {
	if strings.HasPrefix(strings.ToLower(v), "bearer ") {
		return v
	}
	return "Bearer " + v
}

func statusBucket(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "0"
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func marshalQuiet(v any) ([]byte, error) {
	return json.Marshal(v)
}
