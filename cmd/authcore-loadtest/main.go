// Command authcore-loadtest drives an in-process engine against Redis and
// reports per-phase throughput and latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/couponali/authcore"
	"github.com/couponali/authcore/internal/memusers"
)

type options struct {
	users       int
	concurrency int
	ops         int
	logins      int
	redisAddr   string
}

// account holds the live token pair of one registered user. Refresh
// rotates both, so access is serialized per account.
type account struct {
	mu       sync.Mutex
	email    string
	password string
	access   string
	refresh  string
}

func main() {
	var opts options
	flag.IntVar(&opts.users, "users", 500, "accounts to register")
	flag.IntVar(&opts.concurrency, "concurrency", 64, "concurrent workers per phase")
	flag.IntVar(&opts.ops, "ops", 50000, "operations in the validate and refresh phases")
	flag.IntVar(&opts.logins, "logins", 500, "operations in the password login phase")
	flag.StringVar(&opts.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; empty starts miniredis")
	flag.Parse()

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.users <= 0 || opts.concurrency <= 0 || opts.ops <= 0 || opts.logins < 0 {
		return fmt.Errorf("users, concurrency and ops must be positive")
	}

	client, closeRedis, err := dialRedis(opts.redisAddr, out)
	if err != nil {
		return err
	}
	defer closeRedis()

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789ab")
	cfg.RateLimit.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(memusers.New()).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	accounts, err := seed(ctx, engine, opts.users, out)
	if err != nil {
		return err
	}
	pick := func(r *rand.Rand) *account { return accounts[r.Intn(len(accounts))] }

	phases := []struct {
		name string
		ops  int
		op   func(context.Context, *rand.Rand) error
	}{
		{"validate", opts.ops, func(ctx context.Context, r *rand.Rand) error {
			a := pick(r)
			a.mu.Lock()
			token := a.access
			a.mu.Unlock()
			_, err := engine.ValidateAccess(ctx, token)
			return err
		}},
		{"refresh", opts.ops, func(ctx context.Context, r *rand.Rand) error {
			a := pick(r)
			a.mu.Lock()
			defer a.mu.Unlock()
			pair, err := engine.Refresh(ctx, a.refresh, authcore.DeviceInfo{})
			if err != nil {
				return err
			}
			a.access, a.refresh = pair.AccessToken, pair.RefreshToken
			return nil
		}},
		{"login", opts.logins, func(ctx context.Context, r *rand.Rand) error {
			a := pick(r)
			_, err := engine.Login(ctx, a.email, a.password, authcore.DeviceInfo{})
			return err
		}},
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "phase\tops\tfailed\telapsed\tops/s\tp50\tp95\tp99")
	for i, ph := range phases {
		if ph.ops == 0 {
			continue
		}
		s := runPhase(ctx, ph.ops, opts.concurrency, int64(i+1), ph.op)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%.0f\t%s\t%s\t%s\n",
			ph.name, s.ops, s.failures, s.elapsed.Round(time.Millisecond), s.throughput(),
			s.quantile(50).Round(time.Microsecond), s.quantile(95).Round(time.Microsecond),
			s.quantile(99).Round(time.Microsecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	snap := engine.MetricsSnapshot()
	fmt.Fprintf(out, "\nrefresh ok=%d failed=%d reuse=%d rotate buckets=%v\n",
		snap.Counters[authcore.MetricRefreshSuccess],
		snap.Counters[authcore.MetricRefreshFailure],
		snap.Counters[authcore.MetricRefreshReuseDetected],
		snap.Histograms[authcore.MetricRotateLatency])
	return nil
}

func dialRedis(addr string, out io.Writer) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Fprintf(out, "redis %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Fprintf(out, "miniredis %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seed(ctx context.Context, engine *authcore.Engine, n int, out io.Writer) ([]*account, error) {
	start := time.Now()
	accounts := make([]*account, n)
	for i := range accounts {
		a := &account{
			email:    fmt.Sprintf("load-%d@example.com", i),
			password: fmt.Sprintf("load-pass-%d", i),
		}
		pair, err := engine.Register(ctx, authcore.RegisterInput{Email: a.email, Password: a.password},
			authcore.DeviceInfo{IPAddress: "127.0.0.1", UserAgent: "authcore-loadtest"})
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", a.email, err)
		}
		a.access, a.refresh = pair.AccessToken, pair.RefreshToken
		accounts[i] = a
	}
	fmt.Fprintf(out, "seeded %d accounts in %s\n", n, time.Since(start).Round(time.Millisecond))
	return accounts, nil
}

// phaseResult holds sorted per-call latencies for one phase.
type phaseResult struct {
	elapsed  time.Duration
	ops      int
	failures int64
	samples  []time.Duration
}

func (p phaseResult) throughput() float64 {
	if p.elapsed <= 0 {
		return 0
	}
	return float64(p.ops) / p.elapsed.Seconds()
}

// quantile uses nearest-rank on the sorted samples. q is a percentage.
func (p phaseResult) quantile(q int) time.Duration {
	n := len(p.samples)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return p.samples[0]
	case q >= 100:
		return p.samples[n-1]
	}
	return p.samples[(n-1)*q/100]
}

// runPhase spreads ops calls of op over concurrency workers. A failed call
// is counted and the phase goes on.
func runPhase(ctx context.Context, ops, concurrency int, seed int64, op func(context.Context, *rand.Rand) error) phaseResult {
	var (
		next     atomic.Int64
		failures atomic.Int64
	)
	perWorker := make([][]time.Duration, concurrency)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := range perWorker {
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed*7919 + int64(w)))
			for next.Add(1) <= int64(ops) {
				if err := gctx.Err(); err != nil {
					return err
				}
				t0 := time.Now()
				if err := op(gctx, r); err != nil {
					failures.Add(1)
				}
				perWorker[w] = append(perWorker[w], time.Since(t0))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := phaseResult{elapsed: time.Since(start), failures: failures.Load()}
	for _, s := range perWorker {
		res.samples = append(res.samples, s...)
	}
	slices.Sort(res.samples)
	res.ops = len(res.samples)
	return res
}
