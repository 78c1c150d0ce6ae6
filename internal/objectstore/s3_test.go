package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeS3 is a minimal path-style S3 endpoint backing one bucket in memory.
type fakeS3 struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string][]byte
	pageSize int

	failDelete bool
	listPages  int
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: map[string][]byte{}, pageSize: 1000}
}

func (f *fakeS3) keys() []string {
	ks := make([]string, 0, len(f.objects))
	for k := range f.objects {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/"+f.bucket)
	key = strings.TrimPrefix(key, "/")

	switch {
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		f.handleList(w, r)
	case r.Method == http.MethodPut && r.Header.Get("x-amz-copy-source") != "":
		src := strings.TrimPrefix(r.Header.Get("x-amz-copy-source"), f.bucket+"/")
		data, ok := f.objects[src]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		f.objects[key] = data
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<CopyObjectResult><ETag>"1"</ETag></CopyObjectResult>`)
	case r.Method == http.MethodDelete:
		if f.failDelete {
			writeS3Error(w, http.StatusInternalServerError, "InternalError")
			return
		}
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Write(data)
	default:
		writeS3Error(w, http.StatusBadRequest, "InvalidRequest")
	}
}

func (f *fakeS3) handleList(w http.ResponseWriter, r *http.Request) {
	f.listPages++
	prefix := r.URL.Query().Get("prefix")

	var matched []string
	for _, k := range f.keys() {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}

	start := 0
	if tok := r.URL.Query().Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := start + f.pageSize
	if end > len(matched) {
		end = len(matched)
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if end < len(matched) {
		sb.WriteString("<IsTruncated>true</IsTruncated>")
		fmt.Fprintf(&sb, "<NextContinuationToken>%d</NextContinuationToken>", end)
	} else {
		sb.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range matched[start:end] {
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key></Contents>", k)
	}
	sb.WriteString("</ListBucketResult>")

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, sb.String())
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

// newTestClient spins up a fake S3 endpoint and a Client pointed at it.
func newTestClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_SESSION_TOKEN", "")

	fake := newFakeS3("test-bucket")
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := New(context.Background(), "test-bucket", "us-east-1", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, fake
}

func TestList_StreamsAllPages(t *testing.T) {
	client, fake := newTestClient(t)
	fake.pageSize = 2
	for i := 0; i < 5; i++ {
		fake.objects[fmt.Sprintf("platform/evt%d.json", i)] = []byte("{}")
	}
	fake.objects["other/evt9.json"] = []byte("{}")

	var got []string
	err := client.List(context.Background(), "platform/", func(key string) error {
		got = append(got, key)
		return nil
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("listed %d keys, want 5: %v", len(got), got)
	}
	if fake.listPages < 3 {
		t.Errorf("expected at least 3 list pages, got %d", fake.listPages)
	}
}

func TestList_CallbackErrorStopsWalk(t *testing.T) {
	client, fake := newTestClient(t)
	fake.objects["platform/a.json"] = []byte("{}")
	fake.objects["platform/b.json"] = []byte("{}")

	wantErr := errors.New("stop")
	var seen int
	err := client.List(context.Background(), "platform/", func(string) error {
		seen++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("List error = %v, want %v", err, wantErr)
	}
	if seen != 1 {
		t.Errorf("callback ran %d times, want 1", seen)
	}
}

func TestFetch(t *testing.T) {
	client, fake := newTestClient(t)
	fake.objects["platform/evt1.json"] = []byte(`{"work_order":"OT100"}`)

	data, err := client.Fetch(context.Background(), "platform/evt1.json")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != `{"work_order":"OT100"}` {
		t.Errorf("got %q", data)
	}
}

func TestFetch_VanishedObject(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Fetch(context.Background(), "platform/gone.json")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Fetch error = %v, want ErrObjectNotFound", err)
	}
}

func TestMove_PreservesRelativePath(t *testing.T) {
	client, fake := newTestClient(t)
	fake.objects["declare_pt/2024-01-01/evt1.json"] = []byte("{}")

	destKey, err := client.Move(context.Background(),
		"declare_pt/2024-01-01/evt1.json", "declare_pt/", "declare_pt/PROCESSED/")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if destKey != "declare_pt/PROCESSED/2024-01-01/evt1.json" {
		t.Errorf("destKey = %q", destKey)
	}
	if _, ok := fake.objects["declare_pt/2024-01-01/evt1.json"]; ok {
		t.Error("source key still exists after move")
	}
	if _, ok := fake.objects["declare_pt/PROCESSED/2024-01-01/evt1.json"]; !ok {
		t.Error("destination key missing after move")
	}
}

func TestMove_DeleteFailureLeavesBothCopies(t *testing.T) {
	client, fake := newTestClient(t)
	fake.objects["declare_pt/evt1.json"] = []byte("{}")
	fake.failDelete = true

	_, err := client.Move(context.Background(), "declare_pt/evt1.json", "declare_pt/", "declare_pt/PROCESSED/")
	if err == nil {
		t.Fatal("expected error when delete fails")
	}
	if _, ok := fake.objects["declare_pt/evt1.json"]; !ok {
		t.Error("source should survive a failed delete")
	}
	if _, ok := fake.objects["declare_pt/PROCESSED/evt1.json"]; !ok {
		t.Error("copy should have landed before the failed delete")
	}
}
