// Package integration provides a reusable test harness for end-to-end
// testing of the caseflow server. It starts a full HTTP server with
// in-memory stores and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/riverrun-io/caseflow/internal/action"
	"github.com/riverrun-io/caseflow/internal/audit"
	"github.com/riverrun-io/caseflow/internal/capability"
	"github.com/riverrun-io/caseflow/internal/casestate"
	"github.com/riverrun-io/caseflow/internal/config"
	"github.com/riverrun-io/caseflow/internal/definition"
	"github.com/riverrun-io/caseflow/internal/engine"
	"github.com/riverrun-io/caseflow/internal/guard"
	"github.com/riverrun-io/caseflow/internal/notify"
	"github.com/riverrun-io/caseflow/internal/observability"
	"github.com/riverrun-io/caseflow/internal/transport"
	"github.com/riverrun-io/caseflow/model"
)

// TestHarness encapsulates a fully wired caseflow instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Definitions   *definition.Store
	CaseStore     *casestate.MemoryStore
	AuditLog      *audit.MemoryLog
	Engine        *engine.Engine
	Notifications *CaptureSink
	CapResolver   model.CapabilityResolver

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	policyFile     string
	handlerTimeout time.Duration
	actionTimeout  time.Duration
}

// WithDefinitions sets the definition directories to load. Relative paths are
// resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// CaptureSink records every outbound message for assertion.
type CaptureSink struct {
	mu       sync.Mutex
	messages []notify.Message
}

// Notify records the message.
func (s *CaptureSink) Notify(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of everything delivered so far.
func (s *CaptureSink) Messages() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.messages...)
}

// NewTestHarness creates and starts a full caseflow test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		actionTimeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	td := testdataDir()
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(td, "definitions")}
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(td, "policies.yaml")
	}

	logger := zaptest.NewLogger(t)

	h := &TestHarness{
		t:             t,
		Definitions:   definition.NewStore(),
		CaseStore:     casestate.NewMemoryStore(),
		AuditLog:      audit.NewMemoryLog(),
		Notifications: &CaptureSink{},
	}

	// Load and publish workflow definitions.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	for _, def := range defs {
		if _, err := h.Definitions.Publish(def); err != nil {
			t.Fatalf("publish %s: %v", def.SourceFile, err)
		}
	}

	// Capability resolver with no caching so policy edits apply immediately.
	evaluator, err := capability.NewStaticPolicyEvaluator(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	h.CapResolver = capability.NewResolver(evaluator, 0)

	h.Engine = engine.New(
		h.Definitions,
		h.CaseStore,
		guard.NewEvaluator(h.CapResolver),
		action.NewExecutor(h.Notifications, logger, hc.actionTimeout),
		h.AuditLog,
		logger,
		nil,
	)

	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	// The default prometheus registry is shared across tests; serve metrics
	// from it only in the real binary.
	h.cfg.Observability.Metrics.Enabled = false

	keys := transport.NewKeyCache(h.issuer.JWKSURL(), 1*time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Logger:             logger,
		Engine:             h.Engine,
		Definitions:        h.Definitions,
		Authenticate:       transport.JWTAuthenticator(h.cfg.Identity, keys),
		CapabilityResolver: h.CapResolver,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(h.Definitions.All()) > 0 },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// AgentClaims returns TestClaims for a case_agent user.
func AgentClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-agent",
		TenantID:  "acme-corp",
		Email:     "agent@acme.example.com",
		Roles:     []string{"case_agent"},
	}
}

// ViewerClaims returns TestClaims for a case_viewer user.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-viewer",
		TenantID:  "acme-corp",
		Email:     "viewer@acme.example.com",
		Roles:     []string{"case_viewer"},
	}
}

// AdminClaims returns TestClaims for an administrator.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		TenantID:  "acme-corp",
		Email:     "admin@acme.example.com",
		Roles:     []string{"ADMIN"},
	}
}

// OtherTenantClaims returns agent claims scoped to a different tenant.
func OtherTenantClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-agent-2",
		TenantID:  "globex",
		Email:     "agent@globex.example.com",
		Roles:     []string{"case_agent"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
