package hotplug

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"m2mconv/internal/logging"
)

// Watcher listens for udev netlink events and reports the removal of one
// video4linux node.
type Watcher struct {
	logger   *slog.Logger
	onRemove func(device string)
	device   string
	resolved string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// New creates a watcher for device. It returns nil when device is empty.
// Symlinked nodes such as /dev/v4l/by-path entries are resolved so events
// naming the real node match.
func New(device string, logger *slog.Logger, onRemove func(device string)) *Watcher {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil
	}
	resolved := device
	if target, err := filepath.EvalSymlinks(device); err == nil {
		resolved = target
	}
	return &Watcher{
		logger:   logging.NewComponentLogger(logger, "hotplug").With(logging.String(logging.FieldDevice, device)),
		onRemove: onRemove,
		device:   device,
		resolved: resolved,
	}
}

// Start begins listening for udev netlink events. A socket that cannot be
// opened is logged and ignored; conversions then rely on the completion
// deadline to notice a vanished device.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket; device removal will not be detected", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the process has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "device removal detected only by completion timeout"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.monitorLoop(ctx, conn, quit)

	w.logger.Debug("hotplug watcher started",
		logging.String(logging.FieldEventType, "hotplug_watcher_started"),
		logging.String("resolved", w.resolved),
	)
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false

	w.logger.Debug("hotplug watcher stopped",
		logging.String(logging.FieldEventType, "hotplug_watcher_stopped"),
	)
}

// Running reports whether the watcher is active.
func (w *Watcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, w.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(w.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "device removal may go unnoticed"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=video4linux, ACTION=remove.
func (w *Watcher) buildMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (w *Watcher) handleEvent(uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if devname == "" {
		w.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	if devname != w.device && devname != w.resolved {
		w.logger.Debug("ignoring event for another device", logging.String("event_device", devname))
		return
	}

	logging.WarnWithContext(w.logger, "converter device removed", "device_removed",
		logging.String("action", string(uevent.Action)),
		logging.String(logging.FieldErrorHint, "reconnect the device and rerun the conversion"),
		logging.String(logging.FieldImpact, "conversion stopped"),
	)
	if w.onRemove != nil {
		w.onRemove(w.device)
	}
}

// extractDeviceName gets the device path from a uevent.
func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			return "/dev/" + devname
		}
		return devname
	}

	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	return "/dev/" + filepath.Base(devpath)
}
