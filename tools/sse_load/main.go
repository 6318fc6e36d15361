// Command sse_load opens many concurrent subscribers on the status event stream
// and reports how many events of each type they received.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		targetURL   string
		connections int
		duration    time.Duration
		rampUp      time.Duration
		lastEventID uint64
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/events/stream", "status stream URL")
	flag.IntVar(&connections, "conns", 500, "number of concurrent subscribers")
	flag.DurationVar(&duration, "dur", time.Minute, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "spread subscriber starts across this window")
	flag.Uint64Var(&lastEventID, "last-event-id", 0, "resume every subscriber after this journal index")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", connections))
	}
	if rampUp == 0 && connections > 100 {
		rampUp = time.Duration(connections/500+1) * time.Second
	}

	streamURL, err := withLastEventID(targetURL, lastEventID)
	if err != nil {
		logger.Fatal("invalid url", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{Transport: &http.Transport{
		MaxConnsPerHost:     connections + 100,
		MaxIdleConnsPerHost: connections + 100,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}}

	logger.Info("starting subscribers",
		zap.String("url", streamURL),
		zap.Int("conns", connections),
		zap.Duration("dur", duration),
		zap.Duration("ramp", rampUp))

	stats := newCounters()
	start := time.Now()

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		report(ctx, logger, stats, start)
		return nil
	})

	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, streamURL, stats)
			return nil
		})
	}

	_ = g.Wait()
	fmt.Fprintln(os.Stdout, stats.summary(time.Since(start)))
}

func subscribe(ctx context.Context, client *http.Client, streamURL string, stats *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		stats.connectErrs.Add(1)
		return
	}

	stats.connected.Add(1)
	if err := stats.consume(resp.Body); err != nil && ctx.Err() == nil {
		stats.streamErrs.Add(1)
	}
}

func report(ctx context.Context, logger *zap.Logger, stats *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status",
				zap.Int64("connected", stats.connected.Load()),
				zap.Int64("connect_errs", stats.connectErrs.Load()),
				zap.Int64("stream_errs", stats.streamErrs.Load()),
				zap.Any("events", stats.byType()),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
		}
	}
}

func withLastEventID(raw string, id uint64) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if id > 0 {
		q := u.Query()
		q.Set("last_event_id", strconv.FormatUint(id, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
