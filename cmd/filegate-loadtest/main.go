// Command filegate-loadtest drives the engine with concurrent logins,
// credential-stuffing bursts and download redemptions, then prints latency
// percentiles and checks that every attacked account locked exactly once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/password"
	"github.com/MrEthical07/fileGate/store/memstore"
	"github.com/MrEthical07/fileGate/store/sqlstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const seedPassword = "Load!Test#Passw0rd"

func main() {
	var (
		accounts    = flag.Int("accounts", 200, "number of customer accounts to seed")
		attacked    = flag.Int("attacked", 20, "accounts hit with wrong passwords")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		sqlitePath  = flag.String("sqlite", "", "sqlite file for the repository; empty uses the in-memory store")
		argonMemory = flag.Uint("argon-memory", 8*1024, "argon2id memory in KiB")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 || *attacked < 0 || *attacked >= *accounts {
		fmt.Fprintln(os.Stderr, "accounts, concurrency and ops must be > 0; attacked must be below accounts")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	repo, closeRepo, err := openRepository(ctx, *sqlitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repository: %v\n", err)
		os.Exit(1)
	}
	defer closeRepo()

	cfg := fileGate.DefaultConfig()
	cfg.Token.Secret = []byte("filegate-loadtest-secret-key-0001")
	cfg.Password.Argon2.Memory = uint32(*argonMemory)
	cfg.Password.AcceptLegacyBcrypt = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := fileGate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithRepository(repo).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	seeded, fileID, err := seed(ctx, engine, repo, cfg.Password.Argon2, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	// Attacked accounts come from the tail so the login phase never hits them.
	healthy := seeded[:len(seeded)-*attacked]
	targets := seeded[len(seeded)-*attacked:]

	loginStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		acc := healthy[r.Intn(len(healthy))]
		_, err := engine.Login(ctx, acc.Handle, seedPassword)
		return err
	})

	attackOps := len(targets) * cfg.Lockout.MaxLoginAttempts * 3
	var attackStats phaseStats
	if attackOps > 0 {
		attackStats = runPhase(attackOps, *concurrency, func(_ *rand.Rand, i int) error {
			acc := targets[i%len(targets)]
			_, err := engine.Login(ctx, acc.Handle, "wrong-password")
			var loginErr *fileGate.LoginError
			if errors.As(err, &loginErr) {
				return nil
			}
			return fmt.Errorf("unexpected login result: %v", err)
		})
	}

	downloadStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		acc := healthy[r.Intn(len(healthy))]
		tok, err := engine.AuthorizeDownload(ctx, acc.ID, fileID)
		if err != nil {
			return err
		}
		_, err = engine.Redeem(ctx, tok)
		return err
	})

	violations := checkLockouts(ctx, repo, targets, cfg.Lockout.MaxLoginAttempts)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	if attackOps > 0 {
		printStats("attack", attackStats)
	}
	printStats("download", downloadStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("accounts locked: %d (expected %d)\n", snap.Counters[fileGate.MetricAccountLocked], len(targets))
	if violations > 0 || snap.Counters[fileGate.MetricAccountLocked] != uint64(len(targets)) {
		fmt.Printf("lockout violations: %d\n", violations)
		os.Exit(1)
	}
}

func openRepository(ctx context.Context, path string) (fileGate.Repository, func(), error) {
	if path == "" {
		return memstore.New(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, err
	}
	s, err := sqlstore.Open(ctx, sqlstore.SQLite, "file:"+path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// seed creates active customers that accepted the terms, one shared file and
// an assignment of that file to every customer.
func seed(ctx context.Context, engine *fileGate.Engine, repo fileGate.Repository, argonCfg password.Argon2Config, n int) ([]*fileGate.Account, int64, error) {
	hasher, err := password.NewArgon2(argonCfg)
	if err != nil {
		return nil, 0, err
	}
	hash, err := hasher.Hash(seedPassword)
	if err != nil {
		return nil, 0, err
	}

	file, err := engine.RegisterFile(ctx, fileGate.File{
		OriginalName: "catalogue.pdf",
		StoragePath:  "files/catalogue.pdf",
		SizeBytes:    1 << 20,
	})
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	out := make([]*fileGate.Account, 0, n)
	for i := 0; i < n; i++ {
		acc, err := repo.CreateAccount(ctx, &fileGate.Account{
			Handle:          fmt.Sprintf("customer-%d", i),
			Email:           fmt.Sprintf("customer-%d@example.com", i),
			PasswordHash:    hash,
			Role:            fileGate.RoleCustomer,
			Active:          true,
			Activated:       true,
			TermsAccepted:   true,
			TermsAcceptedAt: &now,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return nil, 0, err
		}
		if _, err := engine.AssignFile(ctx, fileGate.AssignmentRequest{AccountID: acc.ID, FileID: file.ID}); err != nil {
			return nil, 0, err
		}
		out = append(out, acc)
	}
	return out, file.ID, nil
}

func checkLockouts(ctx context.Context, repo fileGate.Repository, targets []*fileGate.Account, threshold int) int {
	violations := 0
	for _, t := range targets {
		acc, err := repo.GetAccountByID(ctx, t.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", t.Handle, err)
			violations++
			continue
		}
		if !acc.Lockout.Locked || acc.Lockout.FailedAttempts != threshold {
			fmt.Fprintf(os.Stderr, "%s: locked=%v failed_attempts=%d\n", acc.Handle, acc.Lockout.Locked, acc.Lockout.FailedAttempts)
			violations++
		}
	}
	return violations
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
