package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/subd"
	"github.com/gogpu/subd/metrics"
)

type benchOptions struct {
	mesh        meshFlags
	instances   int
	iterations  int
	samples     int
	metricsAddr string
	linger      time.Duration
}

func (c *CLI) newBenchCmd() *cobra.Command {
	var o benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive several evaluators sharing one kernel cache concurrently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd, &o)
		},
	}
	o.mesh.register(cmd)
	cmd.Flags().IntVarP(&o.instances, "instances", "i", 4, "Concurrent evaluators")
	cmd.Flags().IntVar(&o.iterations, "iterations", 50, "Refine and evaluate passes per evaluator")
	cmd.Flags().IntVarP(&o.samples, "samples", "n", 16, "Samples per face side")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().DurationVar(&o.linger, "linger", 0, "Keep serving metrics this long after the run")
	return cmd
}

func runBench(cmd *cobra.Command, o *benchOptions) error {
	if o.instances < 1 || o.iterations < 1 || o.samples < 1 {
		return fmt.Errorf("--instances, --iterations and --samples must be positive")
	}
	s, r, kind, err := o.mesh.refine(cmd)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	obs, err := metrics.NewObserver(reg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if o.metricsAddr != "" {
		stop, err := serveMetrics(o.metricsAddr, reg)
		if err != nil {
			return err
		}
		defer stop()
	}

	cache := subd.NewCache(kind)
	defer cache.Close()
	evaluators := make([]*subd.Evaluator, o.instances)
	defer func() {
		for _, e := range evaluators {
			if e != nil {
				e.Close()
			}
		}
	}()
	for i := range evaluators {
		e, err := subd.New(r, kind, subd.WithCache(cache), subd.WithObserver(obs))
		if err != nil {
			return fmt.Errorf("evaluator %d: %w", i, err)
		}
		evaluators[i] = e
	}

	smp := sampleGrid(len(s.Mesh.Faces), o.samples)
	var evaluated atomic.Int64
	began := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range evaluators {
		g.Go(func() error {
			p := make([]float32, 3*len(smp))
			du := make([]float32, 3*len(smp))
			dv := make([]float32, 3*len(smp))
			for range o.iterations {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := upload(e, s); err != nil {
					return err
				}
				if err := e.EvaluateLimitBatch(smp, p, du, dv); err != nil {
					return err
				}
				evaluated.Add(int64(len(smp)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(began)

	p := message.NewPrinter(language.English)
	out := cmd.OutOrStdout()
	_, _ = p.Fprintf(out, "backend:     %s\n", kind)
	_, _ = p.Fprintf(out, "evaluators:  %d\n", o.instances)
	_, _ = p.Fprintf(out, "passes:      %d\n", o.instances*o.iterations)
	_, _ = p.Fprintf(out, "samples:     %d\n", evaluated.Load())
	_, _ = p.Fprintf(out, "elapsed:     %v\n", elapsed)
	if secs := elapsed.Seconds(); secs > 0 {
		_, _ = p.Fprintf(out, "throughput:  %.0f samples/s\n", float64(evaluated.Load())/secs)
	}
	if cache != nil {
		st := cache.Stats()
		_, _ = p.Fprintf(out, "cache:       %d instances, %d hits, %d misses\n", st.Len, st.Hits, st.Misses)
	}

	if o.metricsAddr != "" && o.linger > 0 {
		_, _ = fmt.Fprintf(out, "serving metrics on %s for %v\n", o.metricsAddr, o.linger)
		select {
		case <-ctx.Done():
		case <-time.After(o.linger):
		}
	}
	return nil
}

// serveMetrics exposes reg on addr until stop is called.
func serveMetrics(addr string, reg *prometheus.Registry) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			subd.Logger().Warn("metrics server stopped", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
