package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-resolver/internal/optimistic"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Event: "proposed", MarketID: "m1", State: "PROPOSED", Outcome: "YES", Price: "1000000000000000000", At: time.Now()}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "[Oracle PROPOSED]") || !strings.Contains(received["text"], "Market: m1") {
		t.Fatalf("text 内容不正确: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Event: "settled", At: time.Now()}); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (c *captureNotifier) Notify(_ context.Context, note Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, note)
	return c.err
}

func TestDispatcherFiltersEvents(t *testing.T) {
	capture := &captureNotifier{}
	d := NewDispatcher([]string{"Disputed", "settled"}, map[string]Notifier{"capture": capture}, testLogger())

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	req := optimistic.OracleRequest{
		MarketID:        "m1",
		State:           optimistic.StateDisputed,
		ProposedOutcome: optimistic.OutcomeYes,
		ProposedPrice:   decimal.NewNullDecimal(optimistic.YesPrice),
		DisputeReason:   "wrong round",
	}
	if err := d.OnTransition(context.Background(), optimistic.Event{Type: optimistic.EventProposed, Request: req, At: at}); err != nil {
		t.Fatal(err)
	}
	if err := d.OnTransition(context.Background(), optimistic.Event{Type: optimistic.EventDisputed, Request: req, At: at}); err != nil {
		t.Fatal(err)
	}

	if len(capture.notes) != 1 {
		t.Fatalf("只应转发 disputed, 实际 %d 条", len(capture.notes))
	}
	note := capture.notes[0]
	if note.Event != "disputed" || note.Reason != "wrong round" || note.Outcome != "YES" || note.Price != "1000000000000000000" {
		t.Fatalf("unexpected notification %+v", note)
	}
	if len(note.Channels) != 1 || note.Channels[0] != "capture" {
		t.Fatalf("channels = %v", note.Channels)
	}
}

func TestDispatcherReportsNotifierFailures(t *testing.T) {
	failing := &captureNotifier{err: errors.New("boom")}
	ok := &captureNotifier{}
	d := NewDispatcher(nil, map[string]Notifier{"a": failing, "b": ok}, testLogger())

	err := d.OnTransition(context.Background(), optimistic.Event{Type: optimistic.EventSettled, Request: optimistic.OracleRequest{
		MarketID:      "m2",
		State:         optimistic.StateSettled,
		FinalOutcome:  optimistic.OutcomeNo,
		ResolvedPrice: decimal.NewNullDecimal(optimistic.NoPrice),
	}})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if len(ok.notes) != 1 || ok.notes[0].Outcome != "NO" || ok.notes[0].Price != "0" {
		t.Fatalf("healthy channel should still receive the event: %+v", ok.notes)
	}
}

type orderedNotifier struct {
	name string
	log  *[]string
	err  error
}

func (o orderedNotifier) Notify(context.Context, Notification) error {
	*o.log = append(*o.log, o.name)
	return o.err
}

func TestDispatcherDeliversInChannelOrder(t *testing.T) {
	var delivered []string
	notifiers := map[string]Notifier{}
	for _, name := range []string{"telegram", "log", "webhook", "audit"} {
		n := orderedNotifier{name: name, log: &delivered}
		if name == "webhook" || name == "audit" {
			n.err = errors.New(name + " down")
		}
		notifiers[name] = n
	}
	d := NewDispatcher(nil, notifiers, testLogger())

	for i := 0; i < 5; i++ {
		delivered = delivered[:0]
		err := d.OnTransition(context.Background(), optimistic.Event{Type: optimistic.EventRequested, Request: optimistic.OracleRequest{MarketID: "m3"}})
		if got := strings.Join(delivered, ","); got != "audit,log,telegram,webhook" {
			t.Fatalf("delivery order = %s", got)
		}
		if err == nil || err.Error() != "audit: audit down\nwebhook: webhook down" {
			t.Fatalf("joined error = %v", err)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
