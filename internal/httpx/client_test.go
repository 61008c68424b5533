package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestTransport(retries int) *Transport {
	tr := NewTransport(nil, retries)
	tr.sleep = func(context.Context, time.Duration) error { return nil }
	return tr
}

func post(t *testing.T, client *http.Client, url, body string) *http.Response {
	t.Helper()
	resp, err := client.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	return resp
}

func TestTransportRetriesReadOnlyServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte("starknet_chainId")) {
			t.Errorf("body not replayed: %s", body)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 2 * time.Second, Transport: newTestTransport(1)}
	resp := post(t, client, srv.URL, `{"jsonrpc":"2.0","id":1,"method":"starknet_chainId","params":[]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestTransportNeverRetriesSubmission(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &http.Client{Transport: newTestTransport(3)}
	resp := post(t, client, srv.URL, `{"jsonrpc":"2.0","id":1,"method":"starknet_addInvokeTransaction","params":[]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected upstream status, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("submission must be sent once, got %d attempts", got)
	}
}

func TestTransportStopsRetryingWhenCancelled(t *testing.T) {
	var count int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(nil, 3)}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"starknet_chainId","params":[]}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err == nil {
		_ = resp.Body.Close()
		t.Fatal("expected cancelled request to fail")
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected no retry after cancellation, got %d attempts", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation waited out the backoff: %s", elapsed)
	}
}

func TestSleepContextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep ignored cancellation")
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransportSetsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := &http.Client{Transport: newTestTransport(0)}
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewBufferString(`{"method":"starknet_call"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Del("User-Agent")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
}

func TestReadOnly(t *testing.T) {
	cases := map[string]bool{
		`{"method":"starknet_getNonce"}`: true,
		`[{"method":"starknet_call"},{"method":"starknet_chainId"}]`:             true,
		`[{"method":"starknet_call"},{"method":"starknet_addDeclareTransaction"}]`: false,
		`{"method":"starknet_addDeployAccountTransaction"}`:                      false,
		`not json`: false,
		``:         false,
	}
	for body, want := range cases {
		if got := ReadOnly([]byte(body)); got != want {
			t.Fatalf("ReadOnly(%q) = %v, want %v", body, got, want)
		}
	}
}
