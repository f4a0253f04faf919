package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/metasync/pkg/config"
	jsonpool "github.com/ajitpratap0/metasync/pkg/json"
)

// GraphAPIVersion is the version path segment served by MockGraphAPI.
const GraphAPIVersion = "v22.0"

// MockGraphAPI is an httptest Graph API that serves cursor-paginated edges.
// Routes are keyed by the path below the version, e.g. "act_111/campaigns".
type MockGraphAPI struct {
	Token    string
	UserID   string
	UserName string

	server *httptest.Server

	mu         sync.Mutex
	pages      map[string][][]map[string]interface{}
	failures   map[string]int // remaining forced 500s; negative means always
	emptyPages map[string]int // remaining empty replies for the first page
	requests   map[string]int
	queries    map[string][]url.Values
}

// NewMockGraphAPI starts a mock server that is closed with the test.
func NewMockGraphAPI(t *testing.T) *MockGraphAPI {
	t.Helper()

	m := &MockGraphAPI{
		Token:      "test-token",
		UserID:     "42",
		UserName:   "Test User",
		pages:      make(map[string][][]map[string]interface{}),
		failures:   make(map[string]int),
		emptyPages: make(map[string]int),
		requests:   make(map[string]int),
		queries:    make(map[string][]url.Values),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the server root, suitable as meta.base_url.
func (m *MockGraphAPI) URL() string {
	return m.server.URL
}

// MetaConfig returns a meta configuration pointing at the server with no
// inter-page delay.
func (m *MockGraphAPI) MetaConfig() config.MetaConfig {
	cfg := config.Default().Meta
	cfg.BaseURL = m.server.URL
	cfg.APIVersion = GraphAPIVersion
	cfg.InterPageDelay = 0
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

// SetPages serves pages for path in order.
func (m *MockGraphAPI) SetPages(path string, pages ...[]map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[path] = pages
}

// SetRecords splits records into pages of pageSize and serves them at path.
func (m *MockGraphAPI) SetRecords(path string, pageSize int, records []map[string]interface{}) {
	var pages [][]map[string]interface{}
	for start := 0; start < len(records); start += pageSize {
		end := start + pageSize
		if end > len(records) {
			end = len(records)
		}
		pages = append(pages, records[start:end])
	}
	if len(pages) == 0 {
		pages = [][]map[string]interface{}{{}}
	}
	m.SetPages(path, pages...)
}

// FailNext makes the next n requests to path return 500.
func (m *MockGraphAPI) FailNext(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = n
}

// AlwaysFail makes every request to path return 500.
func (m *MockGraphAPI) AlwaysFail(path string) {
	m.FailNext(path, -1)
}

// EmptyFirstPage makes the first page of path come back empty, still with
// a next cursor, for the next n requests.
func (m *MockGraphAPI) EmptyFirstPage(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emptyPages[path] = n
}

// Requests returns how many requests hit path.
func (m *MockGraphAPI) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// Queries returns the query strings of every request to path.
func (m *MockGraphAPI) Queries(path string) []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.queries[path]...)
}

func (m *MockGraphAPI) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/"+GraphAPIVersion+"/")
	query := r.URL.Query()

	m.mu.Lock()
	m.requests[path]++
	m.queries[path] = append(m.queries[path], query)
	failures := m.failures[path]
	if failures > 0 {
		m.failures[path] = failures - 1
	}
	m.mu.Unlock()

	if !m.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, graphError("Invalid OAuth access token.", 190))
		return
	}
	if failures != 0 {
		writeJSON(w, http.StatusInternalServerError, graphError("An unexpected error has occurred.", 2))
		return
	}

	if path == "me" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": m.UserID, "name": m.UserName})
		return
	}

	m.mu.Lock()
	pages, ok := m.pages[path]
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, graphError("Unknown path components: /"+path, 2500))
		return
	}

	index := 0
	if after := query.Get("after"); after != "" {
		index, _ = strconv.Atoi(after)
	}
	if index >= len(pages) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": []interface{}{}})
		return
	}

	data := pages[index]
	if index == 0 {
		m.mu.Lock()
		if m.emptyPages[path] > 0 {
			m.emptyPages[path]--
			data = []map[string]interface{}{}
		}
		m.mu.Unlock()
	}

	body := map[string]interface{}{"data": data}
	if index+1 < len(pages) {
		next := url.Values{}
		for k, vs := range query {
			next[k] = vs
		}
		next.Set("after", strconv.Itoa(index+1))
		body["paging"] = map[string]interface{}{
			"cursors": map[string]string{"after": strconv.Itoa(index + 1)},
			"next":    m.server.URL + r.URL.Path + "?" + next.Encode(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (m *MockGraphAPI) authorized(r *http.Request) bool {
	if r.URL.Query().Get("access_token") == m.Token {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+m.Token
}

func graphError(message string, code int) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "OAuthException",
			"code":    code,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonpool.NewLineEncoder(w).Encode(v)
}
