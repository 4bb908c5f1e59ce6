package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type recordingPacer struct {
	waits     int32
	throttles int32
	successes int32
	failures  int32
	lastWait  time.Duration
}

func (p *recordingPacer) Wait(ctx context.Context, callerID string) error {
	atomic.AddInt32(&p.waits, 1)
	return nil
}

func (p *recordingPacer) OnThrottle(ctx context.Context, retryAfter time.Duration) error {
	atomic.AddInt32(&p.throttles, 1)
	p.lastWait = retryAfter
	return nil
}

func (p *recordingPacer) OnSuccess() { atomic.AddInt32(&p.successes, 1) }
func (p *recordingPacer) OnFailure() { atomic.AddInt32(&p.failures, 1) }

func TestQueryDatabaseSendsExpectedRequest(t *testing.T) {
	var capturedAuth string
	var capturedVersion string
	var capturedPath string
	var capturedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedVersion = r.Header.Get("Notion-Version")
		capturedPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&capturedBody)
		_, _ = w.Write([]byte(`{"results":[],"has_more":false}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret_123", HTTPClient: server.Client()})
	_, err := client.QueryDatabase(context.Background(), "db_1", TitleEquals("이름", "2026년 1월 5일 (월)"), "")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if capturedPath != "/v1/databases/db_1/query" {
		t.Fatalf("expected query path, got %s", capturedPath)
	}
	if capturedAuth != "Bearer secret_123" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedVersion == "" {
		t.Fatalf("expected Notion-Version header")
	}
	filter, ok := capturedBody["filter"].(map[string]any)
	if !ok {
		t.Fatalf("expected filter in body, got %+v", capturedBody)
	}
	if filter["property"] != "이름" {
		t.Fatalf("expected title property filter, got %+v", filter)
	}
}

func TestAllBlockChildrenMergesPagesInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start_cursor") == "" {
			_, _ = w.Write([]byte(`{
				"results": [
					{"id": "blk_1", "type": "paragraph", "paragraph": {"rich_text": []}},
					{"id": "blk_2", "type": "divider", "divider": {}}
				],
				"has_more": true,
				"next_cursor": "cur_2"
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"results": [{"id": "blk_3", "type": "paragraph", "paragraph": {"rich_text": []}}],
			"has_more": false
		}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret_123", HTTPClient: server.Client()})
	blocks, err := client.AllBlockChildren(context.Background(), "page_1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 merged blocks, got %d", len(blocks))
	}
	for i, want := range []string{"blk_1", "blk_2", "blk_3"} {
		if blocks[i].ID != want {
			t.Fatalf("order lost at %d: got %s want %s", i, blocks[i].ID, want)
		}
	}
}

func TestThrottledCallRetriesAfterPacerBackoff(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id": "page_1"}`))
	}))
	defer server.Close()

	pacer := &recordingPacer{}
	client := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret_123", HTTPClient: server.Client(), Pacer: pacer})
	page, err := client.GetPage(context.Background(), "page_1")
	if err != nil {
		t.Fatalf("expected throttled call to recover, got %v", err)
	}
	if page.ID != "page_1" {
		t.Fatalf("unexpected page %+v", page)
	}
	if atomic.LoadInt32(&pacer.throttles) != 1 {
		t.Fatalf("expected one throttle report, got %d", pacer.throttles)
	}
	if pacer.lastWait != 2*time.Second {
		t.Fatalf("expected Retry-After to reach pacer, got %s", pacer.lastWait)
	}
	if atomic.LoadInt32(&pacer.successes) != 1 {
		t.Fatalf("expected success report after recovery, got %d", pacer.successes)
	}
}

func TestAppendBlockChildrenChunksAtOneHundred(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Children []json.RawMessage `json:"children"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		batchSizes = append(batchSizes, len(body.Children))

		results := make([]string, 0, len(body.Children))
		for i := range body.Children {
			results = append(results, fmt.Sprintf(`{"id":"created_%d_%d","type":"paragraph","paragraph":{}}`, len(batchSizes), i))
		}
		_, _ = w.Write([]byte(`{"results":[` + strings.Join(results, ",") + `],"has_more":false}`))
	}))
	defer server.Close()

	blocks := make([]CleanBlock, 150)
	for i := range blocks {
		blocks[i] = CleanBlock{Type: "paragraph", Payload: map[string]any{}}
	}

	client := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret_123", HTTPClient: server.Client()})
	created, err := client.AppendBlockChildren(context.Background(), "page_1", blocks)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if len(batchSizes) != 2 || batchSizes[0] != 100 || batchSizes[1] != 50 {
		t.Fatalf("expected chunks of 100 and 50, got %v", batchSizes)
	}
	if len(created) != 150 {
		t.Fatalf("expected 150 created blocks, got %d", len(created))
	}
}

func TestAPIErrorCarriesCodeAndMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"validation_error","message":"body failed validation"}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, Token: "secret_123", HTTPClient: server.Client()})
	err := client.ArchivePage(context.Background(), "page_1")
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "validation_error" {
		t.Fatalf("unexpected error detail: %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "validation_error") {
		t.Fatalf("expected code in message, got %v", apiErr)
	}
}

func TestBlockUnmarshalCapturesKindPayload(t *testing.T) {
	raw := `{
		"object": "block",
		"id": "blk_1",
		"type": "child_page",
		"has_children": true,
		"created_time": "2026-01-05T00:00:00.000Z",
		"child_page": {"title": "회의록"}
	}`
	var block Block
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if block.Type != "child_page" || !block.HasChildren {
		t.Fatalf("envelope fields lost: %+v", block)
	}
	if got := block.ChildPageTitle(); got != "회의록" {
		t.Fatalf("expected child page title, got %q", got)
	}
}
