package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"beaconoracle.com/pkg/logger"
	"beaconoracle.com/pkg/metrics"
	"beaconoracle.com/pkg/trace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options controls the bootstrap process. Run is the service body; the process ends
// when it returns.
type Options struct {
	ServiceName string

	LogLevel string
	LogFile  string

	// TraceEndpoint: "" disables tracing, see trace.InitTrace.
	TraceEndpoint string

	// Listen addresses, empty means disabled.
	MetricsAddr string
	PprofAddr   string

	Run func(ctx context.Context) error
}

// Run wires logging, tracing and the side HTTP servers around opt.Run.
func Run(ctx context.Context, opt Options) error {
	if opt.ServiceName == "" || opt.Run == nil {
		return fmt.Errorf("bootstrap: missing required options")
	}

	logger.Init(logger.Options{Service: opt.ServiceName, Level: opt.LogLevel, File: opt.LogFile})
	defer logger.Sync()

	shutdownTracer, err := trace.InitTrace(opt.ServiceName, opt.TraceEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(c); err != nil {
			logger.Error(ctx, "shutdown tracer error", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if opt.MetricsAddr != "" {
		metrics.MustRegister()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		serve(runCtx, g, "metrics", opt.MetricsAddr, mux)
	}
	if opt.PprofAddr != "" {
		serve(runCtx, g, "pprof", opt.PprofAddr, pprofMux())
	}

	g.Go(func() error {
		// side servers follow the service body
		defer stop()
		return opt.Run(runCtx)
	})

	return g.Wait()
}

func serve(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 3 * time.Second,
	}
	g.Go(func() error {
		logger.Info(ctx, name+" listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(c)
	})
}

func pprofMux() *http.ServeMux {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
