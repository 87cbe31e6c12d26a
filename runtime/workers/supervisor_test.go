package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chatsync/mocks"
)

func TestSupervisor_RestartsCrashedWorker(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls atomic.Int32
	worker := mocks.NewMockWorker(ctrl)
	worker.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(_ context.Context) error {
			calls.Add(1)
			return fmt.Errorf("flaky backend")
		}).
		AnyTimes()

	ctx, cancel := context.WithTimeout(context.Background(), 900*time.Millisecond)
	defer cancel()

	NewSupervisor(slog.Default()).Add(worker).Run(ctx)
	req.GreaterOrEqual(calls.Load(), int32(2), "crashed worker should have been restarted")
}

func TestSupervisor_RecoversPanics(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls atomic.Int32
	worker := mocks.NewMockWorker(ctrl)
	worker.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(_ context.Context) error {
			calls.Add(1)
			panic("boom")
		}).
		AnyTimes()

	ctx, cancel := context.WithTimeout(context.Background(), 900*time.Millisecond)
	defer cancel()

	NewSupervisor(slog.Default()).Add(worker).Run(ctx)
	req.GreaterOrEqual(calls.Load(), int32(2), "panicking worker should have been restarted")
}

func TestSupervisor_FinishedWorkerIsNotRestarted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Times(1) fails the test on any restart.
	worker := mocks.NewMockWorker(ctrl)
	worker.EXPECT().Run(gomock.Any()).Return(nil).Times(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		NewSupervisor(slog.Default()).Add(worker).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("supervisor did not return after its only worker finished")
	}
}

func TestSupervisor_StopDrainsWorkers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	worker := mocks.NewMockWorker(ctrl)
	worker.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}).
		Times(1)

	sup := NewSupervisor(slog.Default())
	done := make(chan struct{})
	go func() {
		sup.Add(worker).Run(context.Background())
		close(done)
	}()

	// Let Run install its cancel func before stopping.
	time.Sleep(50 * time.Millisecond)
	sup.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not drain after Stop")
	}
}
