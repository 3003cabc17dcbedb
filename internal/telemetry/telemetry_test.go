package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConsoleSinkSortedKeyValue(t *testing.T) {
	var buf bytes.Buffer
	sink := ConsoleSink{W: &buf}
	sink.Emit(Record{"iteration": 5, "epoch": 1, "valid_mnll": 12.25})
	got := buf.String()
	want := "epoch=1 iteration=5 valid_mnll=12.25\n"
	if got != want {
		t.Fatalf("console line = %q, want %q", got, want)
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(Record{"a": 1})
	sink.Emit(Record{"a": 2})

	select {
	case rec := <-sink.Records:
		if rec["a"] != 1 {
			t.Fatalf("first record a = %v, want 1", rec["a"])
		}
	default:
		t.Fatal("expected one buffered record")
	}
	select {
	case rec := <-sink.Records:
		t.Fatalf("second record should have been dropped, got %v", rec)
	default:
	}
}

func TestHTTPSinkPostsRecord(t *testing.T) {
	received := make(chan Record, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		var rec Record
		if err := json.Unmarshal(body, &rec); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		received <- rec
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL)
	sink.Emit(Record{"valid_mnll": 3.5, "saved": 1})

	select {
	case rec := <-received:
		if rec["valid_mnll"] != 3.5 || rec["saved"] != 1 {
			t.Fatalf("received %v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no record arrived")
	}
}

func TestHTTPSinkUnreachableDoesNotBlock(t *testing.T) {
	sink := NewHTTPSink("http://127.0.0.1:1/nowhere")
	done := make(chan struct{})
	go func() {
		sink.Emit(Record{"a": 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on unreachable endpoint")
	}
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	s.Emit(Record{"a": 1})
}
