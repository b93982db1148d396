package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/routegate/routegate/internal/common"
)

// routeFileSuffix is the extension route definition files must carry.
const routeFileSuffix = ".route.json"

// maxUpstreamResponseSize caps proxied response bodies to prevent OOM from
// unexpectedly large upstream responses.
const maxUpstreamResponseSize = 50 << 20 // 50MB

// routeFile is the on-disk shape of one route definition.
type routeFile struct {
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Description  string          `json:"description"`
	Tags         []string        `json:"tags"`
	Params       []ParamSpec     `json:"params"`
	OutputSchema json.RawMessage `json:"output_schema"`

	// Exactly one of Response / Upstream drives the handler. Response is a
	// literal payload returned as-is; Upstream is a base URL the handler
	// proxies the call to.
	Response json.RawMessage `json:"response"`
	Upstream string          `json:"upstream"`
}

// FileLoader discovers route definitions in a directory tree. Parsed files
// are cached by absolute path until invalidated, so a reload only re-reads
// the files that changed.
type FileLoader struct {
	dir        string
	logger     *common.Logger
	httpClient *http.Client

	mu     sync.Mutex
	parsed map[string][]RouteDescriptor
}

// NewFileLoader creates a loader rooted at dir.
func NewFileLoader(dir string, logger *common.Logger) *FileLoader {
	return &FileLoader{
		dir:    dir,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
		parsed: make(map[string][]RouteDescriptor),
	}
}

// Load walks the route directory and returns the full ordered route list.
// Files are processed in lexical path order so the result is deterministic.
func (l *FileLoader) Load(ctx context.Context) ([]RouteDescriptor, error) {
	var files []string
	err := filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), routeFileSuffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan route directory %s: %w", l.dir, err)
	}
	sort.Strings(files)

	var all []RouteDescriptor
	seen := make(map[string]bool)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		descriptors, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}
		for _, r := range descriptors {
			if seen[r.Key()] {
				l.logger.Warn().
					Str("file", path).
					Str("route", r.Key()).
					Msg("skipping duplicate route definition")
				continue
			}
			seen[r.Key()] = true
			all = append(all, r)
		}
	}
	return all, nil
}

// Invalidate drops the cached parse for the given file path. The next Load
// re-reads the file from disk.
func (l *FileLoader) Invalidate(path string) {
	abs := l.cacheKey(path)
	l.mu.Lock()
	delete(l.parsed, abs)
	l.mu.Unlock()
}

func (l *FileLoader) cacheKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// loadFile returns the descriptors defined in one file, using the parse
// cache when the file has not been invalidated.
func (l *FileLoader) loadFile(path string) ([]RouteDescriptor, error) {
	key := l.cacheKey(path)

	l.mu.Lock()
	cached, ok := l.parsed[key]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file %s: %w", path, err)
	}

	defs, err := decodeRouteFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse route file %s: %w", path, err)
	}

	descriptors := make([]RouteDescriptor, 0, len(defs))
	for _, def := range defs {
		r := RouteDescriptor{
			Method:       strings.ToUpper(def.Method),
			Path:         def.Path,
			Description:  def.Description,
			Tags:         def.Tags,
			Params:       def.Params,
			OutputSchema: def.OutputSchema,
		}
		r.Handler = l.buildHandler(def)
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid route in %s: %w", path, err)
		}
		descriptors = append(descriptors, r)
	}

	l.mu.Lock()
	l.parsed[key] = descriptors
	l.mu.Unlock()

	return descriptors, nil
}

// decodeRouteFile accepts a single definition object or an array of them.
func decodeRouteFile(data []byte) ([]routeFile, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var defs []routeFile
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, err
		}
		return defs, nil
	}
	var def routeFile
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return []routeFile{def}, nil
}

// buildHandler creates the handler for a definition: a literal responder for
// static definitions, an upstream proxy otherwise.
func (l *FileLoader) buildHandler(def routeFile) HandlerFunc {
	if def.Upstream != "" {
		return l.upstreamHandler(def)
	}
	return staticHandler(def)
}

// staticHandler returns the declared payload on every call.
func staticHandler(def routeFile) HandlerFunc {
	payload := def.Response
	return func(ctx context.Context, in CallInput) (any, error) {
		if len(payload) == 0 {
			return map[string]any{}, nil
		}
		var out any
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("invalid static response payload: %w", err)
		}
		return out, nil
	}
}

// upstreamHandler proxies the call to the configured upstream base URL,
// substituting path parameters and forwarding query and body groups.
func (l *FileLoader) upstreamHandler(def routeFile) HandlerFunc {
	method := strings.ToUpper(def.Method)
	upstream := strings.TrimRight(def.Upstream, "/")
	routePath := def.Path

	return func(ctx context.Context, in CallInput) (any, error) {
		path := routePath
		for name, val := range in.Params {
			path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(fmt.Sprint(val)))
		}

		target := upstream + path
		if len(in.Query) > 0 {
			q := url.Values{}
			for name, val := range in.Query {
				q.Set(name, fmt.Sprint(val))
			}
			target += "?" + q.Encode()
		}

		var bodyReader io.Reader
		if len(in.Body) > 0 {
			jsonData, err := json.Marshal(in.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(jsonData)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return nil, err
		}
		if bodyReader != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := l.httpClient.Do(req)
		duration := time.Since(start)
		if err != nil {
			l.logger.Error().
				Str("method", method).
				Str("url", target).
				Int64("duration_ms", duration.Milliseconds()).
				Str("error", err.Error()).
				Msg("upstream request failed")
			return nil, fmt.Errorf("upstream request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponseSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read upstream response: %w", err)
		}

		l.logger.Debug().
			Int("status", resp.StatusCode).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("upstream response")

		if resp.StatusCode >= 400 {
			return nil, parseUpstreamError(resp.StatusCode, body)
		}

		var out any
		if err := json.Unmarshal(body, &out); err != nil {
			// Non-JSON upstreams are passed through as text.
			return string(body), nil
		}
		return out, nil
	}
}

// parseUpstreamError extracts a meaningful error message from an HTTP error response.
func parseUpstreamError(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("%s", errResp.Error)
	}
	return fmt.Errorf("upstream returned %d: %s", statusCode, string(body))
}
