// Package authresolve implements the Auth Resolver (C5): inline value →
// env var → auxiliary JSON file → client passthrough → none, per spec §4.4.
package authresolve

import (
	"os"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/codex-helper/proxy/internal/config"
)

// Resolved is one resolved credential plus the source tag used for debug
// logging only (never surfaced to the client).
type Resolved struct {
	Value  string
	Source string
}

// auxCacheEntry caches one aux file's parsed content keyed by path+mtime,
// per SPEC_FULL.md §4.4's read-through-cache note: re-read whenever mtime
// changes rather than "cached once per process forever".
type auxCacheEntry struct {
	mtimeUnix int64
	raw       []byte
}

// Resolver caches auxiliary auth files (Codex auth.json, Claude
// settings.json) per absolute path.
type Resolver struct {
	mu  sync.Mutex
	aux map[string]auxCacheEntry
}

// New returns an empty Resolver.
func New() *Resolver {
	return &Resolver{aux: make(map[string]auxCacheEntry)}
}

func (r *Resolver) readAux(path string) ([]byte, bool) {
	if path == "" {
		return nil, false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	mtime := fi.ModTime().UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.aux[path]; ok && entry.mtimeUnix == mtime {
		return entry.raw, true
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	r.aux[path] = auxCacheEntry{mtimeUnix: mtime, raw: raw}
	return raw, true
}

// Service identifies which aux-file lookup shape to use.
type Service string

const (
	ServiceCodex  Service = "codex"
	ServiceClaude Service = "claude"
)

// ResolveToken resolves the Authorization bearer token for one upstream.
func (r *Resolver) ResolveToken(svc Service, auth config.UpstreamAuth, auxFilePath, clientValue string) Resolved {
	return r.resolve(svc, auth.InlineToken, auth.EnvTokenName, auxFilePath, clientValue)
}

// ResolveAPIKey resolves the X-API-Key value for one upstream.
func (r *Resolver) ResolveAPIKey(svc Service, auth config.UpstreamAuth, auxFilePath, clientValue string) Resolved {
	return r.resolve(svc, auth.InlineAPIKey, auth.EnvAPIKeyName, auxFilePath, clientValue)
}

func (r *Resolver) resolve(svc Service, inline, envName, auxFilePath, clientValue string) Resolved {
	if inline != "" {
		return Resolved{Value: inline, Source: "inline"}
	}

	if envName != "" {
		if v := os.Getenv(envName); v != "" {
			return Resolved{Value: v, Source: "env:" + envName}
		}
		if v, ok := r.lookupAux(svc, auxFilePath, envName); ok {
			return Resolved{Value: v, Source: auxSourceTag(svc) + ":" + envName}
		}
	}

	if clientValue != "" {
		return Resolved{Value: clientValue, Source: "client_passthrough"}
	}

	if envName != "" {
		return Resolved{Value: "", Source: "missing_env:" + envName}
	}
	return Resolved{Value: "", Source: "none"}
}

func auxSourceTag(svc Service) string {
	if svc == ServiceClaude {
		return "claude_settings_json"
	}
	return "codex_auth_json"
}

// lookupAux reads key out of the aux file: Codex's auth.json by top-level
// key, Claude's settings.json under "env.<key>".
func (r *Resolver) lookupAux(svc Service, path, key string) (string, bool) {
	raw, ok := r.readAux(path)
	if !ok {
		return "", false
	}
	var result gjson.Result
	if svc == ServiceClaude {
		result = gjson.GetBytes(raw, "env."+gjsonEscape(key))
	} else {
		result = gjson.GetBytes(raw, gjsonEscape(key))
	}
	if !result.Exists() || result.String() == "" {
		return "", false
	}
	return result.String(), true
}

// gjsonEscape escapes path-meaningful characters ('.', '*', '?') in a raw
// key before using it as a gjson path segment.
func gjsonEscape(key string) string {
	out := make([]byte, 0, len(key)+4)
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

