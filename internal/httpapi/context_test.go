package httpapi

import (
	"context"
	"testing"
	"time"
)

type ctxKey struct{}

func TestJoinContexts_CancelsWhenBaseDone(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	req := context.WithValue(context.Background(), ctxKey{}, "rid")
	j, cancel := joinContexts(base, req)
	defer cancel()
	if j.Value(ctxKey{}) != "rid" {
		t.Fatal("request values not visible through joined context")
	}
	cancelBase()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel after base canceled")
	}
}

func TestJoinContexts_CancelsWhenRequestDone(t *testing.T) {
	req, cancelReq := context.WithCancel(context.Background())
	j, cancel := joinContexts(context.Background(), req)
	defer cancel()
	cancelReq()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel after request canceled")
	}
}

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	cancel()
	SetBaseContext(nil) //nolint:staticcheck // nil restores the background context
	if serverBaseCtx.Err() != nil {
		t.Fatal("base context should be background after nil")
	}
}
