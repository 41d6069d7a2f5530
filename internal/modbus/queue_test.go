package modbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueCoalescesSameAddress(t *testing.T) {
	q := NewQueue()

	q.Submit(Command{Unit: 0, Address: 5, Kind: CommandWriteRegister, RegValue: 1})
	q.Submit(Command{Unit: 0, Address: 5, Kind: CommandWriteRegister, RegValue: 2})

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after coalescing", q.Len())
	}

	cmd, ok := q.Pop()
	if !ok {
		t.Fatalf("Pop() returned no command")
	}
	if cmd.RegValue != 2 {
		t.Fatalf("coalesced command should carry the newest value, got %d", cmd.RegValue)
	}
}

func TestQueuePreservesFIFOAcrossDistinctAddresses(t *testing.T) {
	q := NewQueue()

	q.Submit(Command{Unit: 0, Address: 1, Kind: CommandWriteRegister, RegValue: 10})
	q.Submit(Command{Unit: 0, Address: 2, Kind: CommandWriteRegister, RegValue: 20})

	first, _ := q.Pop()
	second, _ := q.Pop()

	if first.Address != 1 || second.Address != 2 {
		t.Fatalf("FIFO order broken: got addresses %d, %d", first.Address, second.Address)
	}
}

func TestQueuePopEmpty(t *testing.T) {
	q := NewQueue()

	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop() on empty queue should return ok=false")
	}
}

func TestQueueHasOverdue(t *testing.T) {
	q := NewQueue()

	past := time.Now().Add(-time.Second)
	q.Submit(Command{Unit: 0, Address: 1, Deadline: past})

	if !q.HasOverdue(time.Now()) {
		t.Fatalf("HasOverdue should report true for a past deadline")
	}
}

func TestPopDropsExpiredCommandWithTimeoutError(t *testing.T) {
	q := NewQueue()

	past := time.Now().Add(-time.Second)
	handle := q.Submit(Command{Unit: 2, Address: 9, Deadline: past})

	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop() should drop an expired command, not return it")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := handle.Wait(ctx)
	var timeoutErr *CommandTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Wait() = %v, want a *CommandTimeoutError", err)
	}
}

func TestSubmitAssignsDeadlineFromCommandTimeout(t *testing.T) {
	q := NewQueue()
	q.SetCommandTimeout(10 * time.Millisecond)

	handle := q.Submit(Command{Unit: 0, Address: 1})

	time.Sleep(20 * time.Millisecond)

	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop() should drop a command that outlived the configured timeout")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := handle.Wait(ctx); err == nil {
		t.Fatalf("Wait() = nil, want a timeout error")
	}
}

func TestHandleWaitResolvesOnCoalesce(t *testing.T) {
	q := NewQueue()

	first := q.Submit(Command{Unit: 0, Address: 1, Kind: CommandWriteRegister, RegValue: 1})
	q.Submit(Command{Unit: 0, Address: 1, Kind: CommandWriteRegister, RegValue: 2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := first.Wait(ctx); err != nil {
		t.Fatalf("superseded handle should resolve with nil, got %v", err)
	}
}
