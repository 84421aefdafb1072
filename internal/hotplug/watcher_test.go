package hotplug

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestNew(t *testing.T) {
	t.Run("empty device returns nil", func(t *testing.T) {
		if w := New("  ", nil, nil); w != nil {
			t.Error("expected nil watcher for empty device")
		}
	})

	t.Run("symlink resolved", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "video7")
		if err := os.WriteFile(target, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(dir, "by-path")
		if err := os.Symlink(target, link); err != nil {
			t.Fatal(err)
		}
		w := New(link, nil, nil)
		if w.device != link || w.resolved != target {
			t.Fatalf("device=%q resolved=%q", w.device, w.resolved)
		}
	})
}

func TestNilWatcherIsSafe(t *testing.T) {
	var w *Watcher
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil watcher returned %v", err)
	}
	w.Stop()
	if w.Running() {
		t.Fatal("nil watcher reports running")
	}
}

func TestStopOnUnstartedWatcher(t *testing.T) {
	w := New("/dev/video0", nil, nil)
	w.Stop()
	w.Stop()
	if w.Running() {
		t.Fatal("expected watcher not running")
	}
}

func TestBuildMatcher(t *testing.T) {
	w := New("/dev/video0", nil, nil)
	matcher := w.buildMatcher()

	tests := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{"video remove", netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "video4linux"}}, true},
		{"video add", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "video4linux"}}, false},
		{"block remove", netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "block"}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := matcher.Evaluate(tc.event); got != tc.want {
				t.Fatalf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"absolute devname", map[string]string{"DEVNAME": "/dev/video0"}, true},
		{"relative devname", map[string]string{"DEVNAME": "video0"}, true},
		{"devpath fallback", map[string]string{"DEVPATH": "/devices/platform/mdp/video4linux/video0"}, true},
		{"other device", map[string]string{"DEVNAME": "/dev/video1"}, false},
		{"no name", map[string]string{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var removed []string
			w := New("/dev/video0", nil, func(device string) { removed = append(removed, device) })
			w.handleEvent(netlink.UEvent{Action: netlink.REMOVE, Env: tc.env})
			if got := len(removed) == 1; got != tc.want {
				t.Fatalf("removed=%v, want callback %v", removed, tc.want)
			}
			if tc.want && removed[0] != "/dev/video0" {
				t.Fatalf("callback device %q", removed[0])
			}
		})
	}
}
