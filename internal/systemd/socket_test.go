package systemd

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_FDS", "")
	t.Setenv("LISTEN_PID", "")

	ls, err := GetListeners()
	if err != nil {
		t.Fatalf("GetListeners: %v", err)
	}
	if ls.Activated || ls.Metrics != nil {
		t.Errorf("listeners = %+v, want none", ls)
	}
}

func TestNotifyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	for name, fn := range map[string]func() error{
		"ready":    NotifyReady,
		"stopping": NotifyStopping,
		"watchdog": NotifyWatchdog,
	} {
		if err := fn(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestRunWatchdogWithoutWatchdog(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")

	if interval, err := WatchdogInterval(); err != nil || interval != 0 {
		t.Fatalf("WatchdogInterval = %v, %v", interval, err)
	}

	done := make(chan struct{})
	go func() {
		RunWatchdog(context.Background(), nil, zerolog.Nop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog should return when no watchdog is configured")
	}
}
