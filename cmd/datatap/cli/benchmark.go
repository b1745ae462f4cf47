package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datatap/datatap/internal/gateway"
)

type benchOptions struct {
	baseURL     string
	path        string
	method      string
	apiKey      string
	query       string
	duration    time.Duration
	concurrency int
}

func newBenchmarkCmd() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Load-test a gateway endpoint",
		Long: `Issue concurrent requests against one endpoint of a running server for the
given duration and report throughput, status codes and latency percentiles.
Every request lands in the request log, so run this against a test instance.`,
		Example: `  datatap benchmark --path /api/v1/people --key dtap_... --duration 30s --concurrency 50
  datatap benchmark --url http://staging:8080 --path people --query "city=london&limit=50" --key dtap_...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.baseURL == "" {
				opts.baseURL = strings.TrimSuffix(localURL(""), "/")
			}
			return runBenchmark(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "url", "", "Server base URL (default: the configured server address)")
	cmd.Flags().StringVar(&opts.path, "path", "", "Endpoint path, e.g. /api/v1/people (required)")
	cmd.Flags().StringVar(&opts.method, "method", "GET", "HTTP method the endpoint is registered under")
	cmd.Flags().StringVar(&opts.apiKey, "key", "", "API key (required)")
	cmd.Flags().StringVar(&opts.query, "query", "", "Query string to send, without the leading '?'")
	cmd.Flags().DurationVar(&opts.duration, "duration", 30*time.Second, "Test duration")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 10, "Number of concurrent workers")
	cmd.MarkFlagRequired("path")
	cmd.MarkFlagRequired("key")

	return cmd
}

// benchResult aggregates one run.
type benchResult struct {
	Total     int64
	Errors    int64
	Statuses  map[int]int64
	Latencies []time.Duration // sorted ascending
	Elapsed   time.Duration
}

// percentile returns the p-th percentile (0-100) of the sorted latencies.
func (r *benchResult) percentile(p int) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	idx := len(r.Latencies) * p / 100
	if idx >= len(r.Latencies) {
		idx = len(r.Latencies) - 1
	}
	return r.Latencies[idx]
}

func (r *benchResult) qps() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Total) / r.Elapsed.Seconds()
}

func benchTarget(opts benchOptions, prefix string) (string, error) {
	path, err := gateway.NormalizePath(prefix, opts.path)
	if err != nil {
		return "", err
	}
	target := strings.TrimSuffix(opts.baseURL, "/") + path
	if opts.query != "" {
		target += "?" + strings.TrimPrefix(opts.query, "?")
	}
	return target, nil
}

// probe sends a single request and returns its status code.
func probe(ctx context.Context, client *http.Client, method, target, apiKey string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set(gateway.HeaderAPIKey, apiKey)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

// benchmark hammers target with concurrency workers until duration passes.
func benchmark(ctx context.Context, client *http.Client, method, target, apiKey string, duration time.Duration, concurrency int) *benchResult {
	var (
		total     atomic.Int64
		errs      atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, 100000)
		statuses  = map[int]int64{}
	)

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				req, err := http.NewRequestWithContext(ctx, method, target, nil)
				if err != nil {
					errs.Add(1)
					return
				}
				req.Header.Set(gateway.HeaderAPIKey, apiKey)

				began := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(began)
				if err != nil {
					if ctx.Err() == nil {
						errs.Add(1)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				total.Add(1)
				mu.Lock()
				latencies = append(latencies, elapsed)
				statuses[resp.StatusCode]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return &benchResult{
		Total:     total.Load(),
		Errors:    errs.Load(),
		Statuses:  statuses,
		Latencies: latencies,
		Elapsed:   time.Since(start),
	}
}

func runBenchmark(ctx context.Context, w io.Writer, opts benchOptions) error {
	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	target, err := benchTarget(opts, viper.GetString("gateway.prefix"))
	if err != nil {
		return err
	}
	method := strings.ToUpper(opts.method)

	fmt.Fprintln(w, "datatap benchmark")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Target: %s %s\n", method, target)
	fmt.Fprintf(w, "Duration: %s | Concurrency: %d\n", opts.duration, opts.concurrency)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency,
			MaxIdleConnsPerHost: opts.concurrency,
		},
	}

	// Fail fast on a wrong key or path instead of benchmarking 401s.
	status, err := probe(ctx, client, method, target, opts.apiKey)
	if err != nil {
		return fmt.Errorf("no response from %s; is the server running? (%w)", target, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("probe request returned %d; check --path and --key", status)
	}

	fmt.Fprintln(w, "Running benchmark...")
	res := benchmark(ctx, client, method, target, opts.apiKey, opts.duration, opts.concurrency)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Results")
	fmt.Fprintln(w, "-------")
	fmt.Fprintf(w, "  Total requests: %d\n", res.Total)
	fmt.Fprintf(w, "  Errors:         %d\n", res.Errors)
	fmt.Fprintf(w, "  QPS:            %.1f\n", res.qps())

	codes := make([]int, 0, len(res.Statuses))
	for code := range res.Statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  HTTP %d:       %d\n", code, res.Statuses[code])
	}

	if len(res.Latencies) > 0 {
		fmt.Fprintf(w, "  Latency p50:    %s\n", res.percentile(50))
		fmt.Fprintf(w, "  Latency p95:    %s\n", res.percentile(95))
		fmt.Fprintf(w, "  Latency p99:    %s\n", res.percentile(99))
		fmt.Fprintf(w, "  Latency max:    %s\n", res.Latencies[len(res.Latencies)-1])
	}
	return nil
}
