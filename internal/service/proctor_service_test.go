package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coursiva/proctor-backend/internal/proctor"
	"github.com/coursiva/proctor-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// stalledBackend accepts connections and never replies, so any
// synchronous call into it hangs until its deadline.
func stalledBackend(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	})
	return ln.Addr().String()
}

// stalledService wires a ProctorService to backends that accept and hang.
// The pgx pool connects lazily, so construction succeeds.
func stalledService(t *testing.T) *ProctorService {
	t.Helper()
	addr := stalledBackend(t)

	pool, err := pgxpool.New(context.Background(),
		fmt.Sprintf("postgres://proctor:proctor@%s/proctor?connect_timeout=10", addr))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	return NewProctorService(nil,
		repository.NewAttemptRepository(pool),
		repository.NewViolationRepository(pool),
		rdb, zerolog.Nop())
}

func TestRecordViolationDoesNotBlockOnRedis(t *testing.T) {
	svc := stalledService(t)

	start := time.Now()
	svc.RecordViolation(uuid.New(), proctor.Violation{
		Type:      proctor.ViolationAudioDetected,
		Severity:  proctor.SeverityMedium,
		Timestamp: time.Now(),
	})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("RecordViolation held the caller for %v", elapsed)
	}
}

func TestFinalizeAttemptDoesNotBlockOnStorage(t *testing.T) {
	svc := stalledService(t)

	start := time.Now()
	svc.FinalizeAttempt(uuid.New(), proctor.Result{
		Score:      80,
		TrustScore: 90,
		Completed:  true,
	})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("FinalizeAttempt held the caller for %v", elapsed)
	}
}
