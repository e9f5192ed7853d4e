package pubchem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/helixir/compound-enrichment-service/internal/upstream"
)

// fakePubChem serves canned responses by exact path and counts hits.
type fakePubChem struct {
	*httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	routes map[string]http.HandlerFunc
}

func newFakePubChem(t *testing.T) *fakePubChem {
	t.Helper()
	f := &fakePubChem{
		hits:   make(map[string]int),
		routes: make(map[string]http.HandlerFunc),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.URL.Path]++
		h, ok := f.routes[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakePubChem) respond(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakePubChem) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakePubChem) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

// sleepLog records requested sleeps without sleeping.
type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepLog) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

type testClient struct {
	*Client
	backoffs *sleepLog
	batches  *sleepLog
}

func newTestClient(t *testing.T, f *fakePubChem, cfg Config) testClient {
	t.Helper()
	backoffs, batches := &sleepLog{}, &sleepLog{}
	fetcher := upstream.NewFetcher(upstream.NewGovernor(2, nil), upstream.DefaultFetcherConfig(), upstream.WithSleeper(backoffs.sleep))
	cfg.BaseURL = f.URL + "/rest/pug"
	cfg.ViewBaseURL = f.URL + "/rest/pug_view"
	return testClient{
		Client:   New(fetcher, cfg, WithSleeper(batches.sleep)),
		backoffs: backoffs,
		batches:  batches,
	}
}

func propertiesPath(name string) string {
	return "/rest/pug/compound/name/" + name + "/property/IUPACName,CanonicalSMILES,MolecularWeight,MolecularFormula/JSON"
}

func aidsPath(cid int64) string {
	return fmt.Sprintf("/rest/pug/compound/cid/%d/aids/JSON", cid)
}

func summaryPath(ids ...int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "/rest/pug/assay/aid/" + strings.Join(parts, ",") + "/summary/JSON"
}

func profilePath(cid int64) string {
	return fmt.Sprintf("/rest/pug_view/data/compound/%d/JSON", cid)
}

func aidsJSON(cid int64, ids ...int64) string {
	return mustJSON(map[string]any{
		"InformationList": map[string]any{
			"Information": []any{map[string]any{"CID": cid, "AID": ids}},
		},
	})
}

func summariesJSON(summaries ...map[string]any) string {
	return mustJSON(map[string]any{
		"AssaySummaries": map[string]any{"AssaySummary": summaries},
	})
}

func summary(aid int64, method, target string) map[string]any {
	return map[string]any{
		"AID":    aid,
		"Name":   fmt.Sprintf("Assay %d", aid),
		"Method": method,
		"Target": []any{map[string]any{"Name": target}},
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

