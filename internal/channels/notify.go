// Package channels sends outbound notifications to chat platforms. Unlike
// the teacher's original channels package, which ran full bidirectional bot
// listeners (webhook/long-poll ingestion, command handling, streaming
// replies), this port only ever originates messages: device-pairing approvals
// and cron jobs with a "notify" payload are the only two callers, and
// neither needs to receive anything back.
package channels

import (
	"context"
	"fmt"
	"sort"
)

// Notifier delivers a single text message to a destination on one platform.
// target is platform-specific: a Telegram chat ID, a Slack channel ID, or a
// Discord channel ID.
type Notifier interface {
	Send(ctx context.Context, target, text string) error
}

// Dispatcher routes a Send call to the Notifier registered for a platform
// name ("telegram", "slack", "discord"), mirroring the teacher's pattern of
// keying its per-platform Channel implementations by a string channel name.
type Dispatcher struct {
	notifiers map[string]Notifier
}

// NewDispatcher builds a Dispatcher with no platforms registered; call
// Register for each one the deployment has credentials for.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{notifiers: make(map[string]Notifier)}
}

// Register wires platform to n. A nil n is a no-op, so callers can
// unconditionally call Register even when a platform's credentials are
// absent from config.
func (d *Dispatcher) Register(platform string, n Notifier) {
	if n == nil {
		return
	}
	d.notifiers[platform] = n
}

// Send delivers text to target over platform, or returns an error if no
// notifier is registered for it.
func (d *Dispatcher) Send(ctx context.Context, platform, target, text string) error {
	n, ok := d.notifiers[platform]
	if !ok {
		return fmt.Errorf("channels: no notifier registered for platform %q", platform)
	}
	return n.Send(ctx, target, text)
}

// Platforms lists the platform names currently registered, sorted for
// stable status output.
func (d *Dispatcher) Platforms() []string {
	out := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
