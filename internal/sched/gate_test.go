package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateBlocksTicksDuringExclusivePhase(t *testing.T) {
	g := &Gate{}
	g.EnterExclusive()

	entered := make(chan struct{})
	go func() {
		g.Enter()
		defer g.Leave()
		close(entered)
	}()

	select {
	case <-entered:
		t.Fatal("shared hold acquired while the gate was held exclusively")
	case <-time.After(50 * time.Millisecond):
	}

	g.LeaveExclusive()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("shared hold never acquired after exclusive release")
	}
}

func TestGateExclusiveWaitsForSharedHolders(t *testing.T) {
	g := &Gate{}
	g.Enter()

	acquired := make(chan struct{})
	go func() {
		g.EnterExclusive()
		defer g.LeaveExclusive()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("exclusive hold acquired while a shared holder was active")
	case <-time.After(50 * time.Millisecond):
	}

	g.Leave()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("exclusive hold never acquired after shared release")
	}
}

func TestNilGateIsNoOp(t *testing.T) {
	var g *Gate
	require.NotPanics(t, func() {
		g.Enter()
		g.Leave()
		g.EnterExclusive()
		g.LeaveExclusive()
	})
}
