package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is one metrics emission, keyed by metric name.
type Record map[string]float64

// Sink consumes metric records. Implementations must never block the
// training loop: slow consumers drop or hand off.
type Sink interface {
	Emit(Record)
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) Emit(Record) {}

// ConsoleSink writes each record as one line of sorted key=value
// pairs.
type ConsoleSink struct {
	W io.Writer
}

func (s ConsoleSink) Emit(rec Record) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(rec[k], 'f', -1, 64))
	}
	fmt.Fprintln(s.W, b.String())
}

// ChannelSink forwards records to a channel and drops them when the
// buffer is full.
type ChannelSink struct {
	Records chan Record
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{Records: make(chan Record, buffer)}
}

func (s *ChannelSink) Emit(rec Record) {
	select {
	case s.Records <- rec:
	default:
	}
}

// HTTPSink posts records as JSON to an endpoint, fire and forget. A
// short client timeout keeps a slow endpoint from piling up goroutines.
type HTTPSink struct {
	URL    string
	client *http.Client
}

func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{
		URL:    url,
		client: &http.Client{Timeout: 250 * time.Millisecond},
	}
}

func (s *HTTPSink) Emit(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	go func() {
		resp, err := s.client.Post(s.URL, "application/json", bytes.NewReader(data))
		if err == nil && resp != nil {
			resp.Body.Close()
		}
	}()
}
