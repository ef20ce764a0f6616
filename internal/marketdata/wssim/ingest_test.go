package wssim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tickinsight/internal/model"
)

func feedServer(t *testing.T, frames ...string) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		// Hold the connection open until the client leaves.
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestIngest_SubmitsTicks(t *testing.T) {
	url := feedServer(t,
		`{"symbol":"INFY","exchange":"NSE","price":1500.5,"volume":3,"timestamp":"2026-03-02T09:15:01Z"}`,
		"{\"symbol\":\"TCS\",\"price\":3200,\"volume\":1,\"timestamp\":\"2026-03-02T09:15:02Z\"}\n{not json}",
	)

	ing, err := New(Config{URL: url})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []model.Tick
	var invalid []error
	ing.OnInvalid = func(err error) {
		mu.Lock()
		invalid = append(invalid, err)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ing.Start(ctx, func(tk model.Tick) error {
			mu.Lock()
			got = append(got, tk)
			mu.Unlock()
			return nil
		})
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got) + len(invalid)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v after cancel", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].Symbol != "INFY" || got[0].Price != 1500.5 || got[1].Symbol != "TCS" {
		t.Errorf("ticks: %+v", got)
	}
	if len(invalid) != 1 || !errors.Is(invalid[0], model.ErrMalformedInput) {
		t.Errorf("invalid: %v", invalid)
	}
}

func TestNew_RejectsNonWSScheme(t *testing.T) {
	if _, err := New(Config{URL: "http://localhost:9001/ws"}); !errors.Is(err, model.ErrMalformedInput) {
		t.Fatalf("expected MalformedInput, got %v", err)
	}
}

func TestIngest_ReconnectsAfterDialFailure(t *testing.T) {
	ing, _ := New(Config{URL: "ws://127.0.0.1:1/ws", ReconnectDelay: 5 * time.Millisecond, MaxReconnectDelay: 10 * time.Millisecond})

	var reconnects int
	ing.OnReconnect = func() { reconnects++ }

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := ing.Start(ctx, func(model.Tick) error { return nil }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if reconnects < 2 {
		t.Errorf("expected repeated reconnect attempts, got %d", reconnects)
	}
}
