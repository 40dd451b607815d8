package crm

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeSalesforce serves the token endpoint, SOQL queries and Event creation.
type fakeSalesforce struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	tokens      int
	grants      []string
	assertions  []string
	queries     []string
	posts       []map[string]any
	rejectNext  int
	onQuery     func(soql string, n int) any
	onCreate    func(n int) (int, any)
	queryCounts map[string]int
}

func newFakeSalesforce(t *testing.T) *fakeSalesforce {
	f := &fakeSalesforce{t: t, queryCounts: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/oauth2/token", f.token)
	mux.HandleFunc("GET /services/data/v60.0/query", f.query)
	mux.HandleFunc("GET /services/data/v60.0/query/{locator}", f.query)
	mux.HandleFunc("POST /services/data/v60.0/sobjects/Event/", f.create)
	mux.HandleFunc("GET /services/data/v60.0/sobjects/User/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"Id": r.PathValue("id"), "Name": "Claire Martin", "Email": "claire@example.com"})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeSalesforce) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	f.tokens++
	n := f.tokens
	f.grants = append(f.grants, r.PostForm.Get("grant_type"))
	f.assertions = append(f.assertions, r.PostForm.Get("assertion"))
	f.mu.Unlock()

	if r.PostForm.Get("grant_type") == "password" && r.PostForm.Get("password") != "secret" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "authentication failure"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": fmt.Sprintf("token-%d", n),
		"instance_url": f.srv.URL,
	})
}

func (f *fakeSalesforce) authorized(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectNext > 0 {
		f.rejectNext--
		writeJSON(w, http.StatusUnauthorized, []map[string]string{{"errorCode": "INVALID_SESSION_ID"}})
		return false
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer token-") {
		writeJSON(w, http.StatusUnauthorized, nil)
		return false
	}
	return true
}

func (f *fakeSalesforce) query(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	soql := r.URL.Query().Get("q")
	if soql == "" {
		soql = "next:" + r.PathValue("locator")
	}
	f.mu.Lock()
	f.queries = append(f.queries, soql)
	object := objectOf(soql)
	f.queryCounts[object]++
	n := f.queryCounts[object]
	handler := f.onQuery
	f.mu.Unlock()

	var res any = map[string]any{"totalSize": 0, "done": true, "records": []any{}}
	if handler != nil {
		if v := handler(soql, n); v != nil {
			res = v
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (f *fakeSalesforce) create(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}
	var body map[string]any
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	f.mu.Lock()
	f.posts = append(f.posts, body)
	n := len(f.posts)
	handler := f.onCreate
	f.mu.Unlock()

	if handler == nil {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "event_new", "success": true})
		return
	}
	status, v := handler(n)
	writeJSON(w, status, v)
}

func objectOf(soql string) string {
	i := strings.Index(soql, " FROM ")
	if i < 0 {
		return soql
	}
	rest := soql[i+len(" FROM "):]
	if j := strings.IndexByte(rest, ' '); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func (f *fakeSalesforce) eventQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queryCounts["Event"]
}

func (f *fakeSalesforce) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func records(recs ...any) map[string]any {
	if recs == nil {
		recs = []any{}
	}
	return map[string]any{"totalSize": len(recs), "done": true, "records": recs}
}

func eventJSON(id, subject string, start time.Time, d time.Duration) map[string]any {
	layout := "2006-01-02T15:04:05.000-0700"
	return map[string]any{
		"Id":            id,
		"Subject":       subject,
		"StartDateTime": start.UTC().Format(layout),
		"EndDateTime":   start.Add(d).UTC().Format(layout),
		"OwnerId":       "005OWNER",
	}
}

func testKeyPEM(t *testing.T) ([]byte, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return pem.EncodeToMemory(block), &key.PublicKey
}

var testNow = time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func newPasswordClient(t *testing.T, f *fakeSalesforce, opts ...Option) *Client {
	t.Helper()
	cfg := Config{
		AuthURL:        f.srv.URL,
		AuthMethod:     AuthPassword,
		ClientID:       "client",
		ClientSecret:   "shh",
		Username:       "bot@example.com",
		Password:       "secret",
		DefaultOwnerID: "005OWNER",
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	c, err := NewClient(cfg, nil, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return c
}
