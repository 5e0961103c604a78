// Package pprof runs the net/http/pprof handlers on a dedicated listener.
package pprof

import (
	"context"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	logx "keywatch/pkg/logx"
)

// Serve runs a pprof HTTP server on addr until ctx is done. It returns
// immediately when addr is empty. Non-loopback binds are refused since the
// endpoints carry no auth.
func Serve(ctx context.Context, addr string, log logx.Logger) {
	if addr == "" {
		return
	}
	if !isLoopbackAddr(addr) {
		log.Error("pprof refused to start: addr must be loopback", logx.String("addr", addr))
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
	}()

	go func() {
		log.Info("pprof server listening", logx.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("pprof server failed", logx.Err(err))
		}
	}()
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
