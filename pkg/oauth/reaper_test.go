package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
	"github.com/flowmcp/flowmcp/pkg/store"
)

// failingStore injects sweep failures to prove the reaper swallows them.
type failingStore struct {
	core.Store
	codeCalls  int
	tokenCalls int
}

func (f *failingStore) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	f.codeCalls++
	return 0, errors.New("backend unavailable")
}

func (f *failingStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	f.tokenCalls++
	return 0, errors.New("backend unavailable")
}

func TestReaper_RunOnce(t *testing.T) {
	memStore := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	fixtures := []*core.AuthorizationCode{
		{Code: "live_code", ClientID: "c", ExpiresAt: base.Add(10 * time.Minute).Unix()},
		{Code: "dead_code", ClientID: "c", ExpiresAt: base.Add(-time.Minute).Unix()},
	}
	for _, f := range fixtures {
		if err := memStore.SaveAuthorizationCode(ctx, f); err != nil {
			t.Fatalf("Fixture save failed: %v", err)
		}
	}
	tokens := []*core.AccessToken{
		{Token: "live_token", ClientID: "c", ExpiresAt: base.Add(time.Hour).Unix()},
		{Token: "dead_token", ClientID: "c", ExpiresAt: base.Add(-time.Hour).Unix()},
	}
	for _, tok := range tokens {
		if err := memStore.SaveAccessToken(ctx, tok); err != nil {
			t.Fatalf("Token fixture save failed: %v", err)
		}
	}

	reaper := NewReaper(memStore, time.Minute)
	reaper.RunOnce(ctx)

	remaining, err := memStore.DeleteExpiredCodes(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Post-sweep count failed: %v", err)
	}
	// Only the live code should have survived the sweep.
	if remaining != 1 {
		t.Errorf("Codes surviving the sweep = %d, want 1", remaining)
	}

	remaining, err = memStore.DeleteExpiredTokens(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Post-sweep token count failed: %v", err)
	}
	if remaining != 1 {
		t.Errorf("Tokens surviving the sweep = %d, want 1", remaining)
	}
}

func TestReaper_RunOnce_SweepFailuresAreSwallowed(t *testing.T) {
	failing := &failingStore{Store: store.NewMemoryStore()}
	reaper := NewReaper(failing, time.Minute)

	// Both sweeps run even though the first one fails, and neither failure
	// escapes.
	reaper.RunOnce(context.Background())

	if failing.codeCalls != 1 || failing.tokenCalls != 1 {
		t.Errorf("Sweep calls = (%d, %d), want (1, 1)", failing.codeCalls, failing.tokenCalls)
	}
}

func TestReaper_StartStop(t *testing.T) {
	reaper := NewReaper(store.NewMemoryStore(), time.Hour)

	reaper.Start()
	reaper.Start() // second Start is a no-op

	reaper.Stop()
	reaper.Stop() // second Stop is a no-op
}

func TestReaper_StopWithoutStart(t *testing.T) {
	reaper := NewReaper(store.NewMemoryStore(), time.Hour)
	reaper.Stop()
}

func TestNewReaper_DefaultInterval(t *testing.T) {
	reaper := NewReaper(store.NewMemoryStore(), 0)
	if reaper.interval != DefaultReapInterval {
		t.Errorf("Interval = %v, want %v", reaper.interval, DefaultReapInterval)
	}
}
