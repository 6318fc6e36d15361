package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64

	mu     sync.Mutex
	events map[string]int64
}

func newCounters() *counters {
	return &counters{events: make(map[string]int64)}
}

// consume reads one stream until EOF, counting "event:" lines by type.
// Heartbeat comments and id/data lines are skipped.
func (c *counters) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		typ, ok := strings.CutPrefix(scanner.Text(), "event:")
		if !ok {
			continue
		}
		c.mu.Lock()
		c.events[strings.TrimSpace(typ)]++
		c.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (c *counters) byType() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.events))
	for k, v := range c.events {
		out[k] = v
	}
	return out
}

func (c *counters) summary(elapsed time.Duration) string {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	events := c.byType()
	types := make([]string, 0, len(events))
	var total int64
	for k, v := range events {
		types = append(types, k)
		total += v
	}
	sort.Strings(types)

	var b strings.Builder
	fmt.Fprintf(&b, "done: connected=%d connect_errs=%d stream_errs=%d events=%d elapsed=%s events/s=%.2f",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), total,
		elapsed.Truncate(time.Millisecond), float64(total)/elapsed.Seconds())
	for _, k := range types {
		fmt.Fprintf(&b, " %s=%d", k, events[k])
	}
	return b.String()
}
