package models

import (
	"testing"
	"time"
)

func TestSyncedBalanceSnapshotFresh(t *testing.T) {
	now := time.Now()

	zero := SyncedBalanceSnapshot{}
	if zero.Fresh(now, time.Minute) {
		t.Fatal("expected a never-fetched snapshot to be stale")
	}

	recent := SyncedBalanceSnapshot{FetchedAt: now.Add(-10 * time.Second)}
	if !recent.Fresh(now, time.Minute) {
		t.Fatal("expected a recently fetched snapshot to be fresh")
	}

	stale := SyncedBalanceSnapshot{FetchedAt: now.Add(-2 * time.Minute)}
	if stale.Fresh(now, time.Minute) {
		t.Fatal("expected an old snapshot to be stale")
	}
}
