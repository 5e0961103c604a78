// Package metrics records command and query execution times and optionally
// exposes them over a prometheus text-exposition endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	logx "keywatch/pkg/logx"
)

var (
	commandTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keywatch_command_time",
			Help: "Command execution time, in seconds",
		},
		[]string{"name"},
	)
	queryTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keywatch_query_time",
			Help: "Query execution time, in seconds",
		},
		[]string{"name"},
	)
)

// Timer measures one command or query execution. Stop records the elapsed
// time; a Timer must not be reused.
type Timer struct {
	gauge *prometheus.GaugeVec
	name  string
	start time.Time
}

func Command(name string) *Timer {
	return &Timer{gauge: commandTime, name: name, start: time.Now()}
}

func Query(name string) *Timer {
	return &Timer{gauge: queryTime, name: name, start: time.Now()}
}

func (t *Timer) Stop() {
	t.gauge.WithLabelValues(t.name).Set(time.Since(t.start).Seconds())
}

// AvgCommandTime returns the mean of the recorded per-command times.
// ok is false when nothing has been recorded yet.
func AvgCommandTime() (avg float64, ok bool) {
	return avgGauge(commandTime)
}

// AvgQueryTime returns the mean of the recorded per-query times.
func AvgQueryTime() (avg float64, ok bool) {
	return avgGauge(queryTime)
}

func avgGauge(vec *prometheus.GaugeVec) (float64, bool) {
	ch := make(chan prometheus.Metric)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()

	var (
		sum   float64
		count int
	)
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		if pb.Gauge == nil || pb.Gauge.Value == nil {
			continue
		}
		sum += pb.Gauge.GetValue()
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Serve runs a /metrics HTTP server on addr until ctx is done.
// It returns immediately when addr is empty.
func Serve(ctx context.Context, addr string, log logx.Logger) {
	if addr == "" {
		log.Warn("metrics address not configured; not starting metrics server")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
	}()

	go func() {
		log.Info("metrics server listening", logx.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", logx.Err(err))
		}
	}()
}
