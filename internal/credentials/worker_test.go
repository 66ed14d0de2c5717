package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorker_RunsExpiringSweepOnStart(t *testing.T) {
	soon := time.Now().Add(10 * time.Minute)
	store := newMemStore(Integration{ID: "a", Status: StatusActive, RefreshKey: "ref", TokenExpiry: &soon})
	grants := &fakeGrants{refresh: map[string]*TokenSet{
		"ref": {RequestKey: "new", RefreshKey: "ref", ExpiresAt: time.Now().Add(24 * time.Hour)},
	}}
	worker := NewWorker(NewManager(store, grants, nil), nil).
		WithIntervals(time.Hour, 24*time.Hour).
		WithRefreshWindow(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.row("a").RequestKey == "new" }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorker_RunOnce(t *testing.T) {
	store := newMemStore(Integration{ID: "a", Status: StatusActive})
	report, err := NewWorker(NewManager(store, &fakeGrants{}, nil), nil).RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Failed)
}
