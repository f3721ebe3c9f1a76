// Package notify delivers desktop notifications over the session D-Bus.
package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/domain"
)

const (
	notifyObject    = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
	notifyMethod    = "org.freedesktop.Notifications.Notify"

	appName = "focusgate"

	urgencyNormal   = byte(1)
	urgencyCritical = byte(2)
)

// DBusNotifier implements domain.Notifier via org.freedesktop.Notifications.
type DBusNotifier struct {
	conn   *dbus.Conn
	logger *zap.Logger
}

// NewDBusNotifier connects to the session bus. Callers should fall back to
// the nop notifier when no session bus is available (headless hosts).
func NewDBusNotifier(logger *zap.Logger) (*DBusNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DBusNotifier{conn: conn, logger: logger}, nil
}

// Notify sends a transient desktop notification.
func (n *DBusNotifier) Notify(ctx context.Context, summary, body string, urgent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	urgency := urgencyNormal
	if urgent {
		urgency = urgencyCritical
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency),
	}

	// Args per the Desktop Notifications spec: app_name, replaces_id,
	// app_icon, summary, body, actions, hints, expire_timeout.
	obj := n.conn.Object(notifyInterface, dbus.ObjectPath(notifyObject))
	call := obj.CallWithContext(ctx, notifyMethod, 0,
		appName, uint32(0), "", summary, body, []string{}, hints, int32(-1))
	if call.Err != nil {
		return fmt.Errorf("notification call failed: %w", call.Err)
	}
	return nil
}

// Close shuts down the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// NopNotifier discards notifications. Used in tests and when the session bus
// is unreachable.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(context.Context, string, string, bool) error { return nil }

var _ domain.Notifier = (*DBusNotifier)(nil)
var _ domain.Notifier = NopNotifier{}
