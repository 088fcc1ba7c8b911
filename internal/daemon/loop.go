// Package daemon runs one translator instance's packet loop: read a raw
// IP packet from a netio.TunnelConn, translate it, write whatever comes
// out back to the same conn, and account for the outcome in metrics.
//
// Grounded on internal/netio.Receiver's "one goroutine per listener,
// context-cancellable Run" shape, generalized from BFD's
// demux-by-session-key to a single translator instance per conn.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jool-go/jool/internal/instance"
	"github.com/jool-go/jool/internal/metrics"
	"github.com/jool-go/jool/internal/netio"
	"github.com/jool-go/jool/internal/translate"
	"github.com/jool-go/jool/internal/verdict"
	"github.com/jool-go/jool/internal/wire"
)

// Loop binds one netio.TunnelConn to one registry entry by name, so a
// Replace published mid-Run is picked up on the very next packet without
// restarting the loop.
type Loop struct {
	conn     netio.TunnelConn
	registry *instance.Registry
	name     string
	metrics  *metrics.Collector
	log      *slog.Logger
}

// NewLoop builds a Loop that reads/writes over conn and resolves name
// against registry on every packet.
func NewLoop(conn netio.TunnelConn, registry *instance.Registry, name string, collector *metrics.Collector, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{conn: conn, registry: registry, name: name, metrics: collector, log: log}
}

// Run reads packets from the loop's conn until ctx is cancelled or a
// read error occurs. It never returns a non-nil error for ctx
// cancellation.
func (l *Loop) Run(ctx context.Context) error {
	buf := make([]byte, wire.MaxPacketSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := l.conn.ReadPacket(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("instance %q: %w", l.name, err)
		}

		l.handle(ctx, buf[:n])
	}
}

func (l *Loop) handle(ctx context.Context, raw []byte) {
	inst, ok := l.registry.Get(l.name)
	if !ok {
		l.log.Warn("packet arrived for unregistered instance", slog.String("instance", l.name))
		return
	}
	defer inst.Release()

	out, outcome, err := translate.Translate(inst.Ctx, raw)
	if err != nil {
		l.log.Error("translation failed",
			slog.String("instance", l.name),
			slog.String("error", err.Error()),
		)
		l.metrics.IncPacketsDropped(l.name, "internal_error")
		return
	}

	switch outcome.Verdict {
	case verdict.Continue:
		l.writeOut(ctx, out)
		l.metrics.IncPacketsTranslated(l.name, familyLabel(out.Family))
		wire.PutPacket(out)

	case verdict.Untranslatable:
		if out != nil {
			l.writeOut(ctx, out)
			l.metrics.IncICMPErrorsEmitted(l.name, familyLabel(out.Family))
			wire.PutPacket(out)
			return
		}
		l.metrics.IncPacketsDropped(l.name, outcome.Reason.String())

	case verdict.Accept:
		if err := l.conn.WritePacket(raw); err != nil {
			l.log.Error("write accepted packet failed",
				slog.String("instance", l.name), slog.String("error", err.Error()))
		}
		l.metrics.IncPacketsAccepted(l.name)

	case verdict.Drop:
		l.metrics.IncPacketsDropped(l.name, outcome.Reason.String())

	case verdict.Stolen:
		// Nothing to write: the packet was buffered internally pending
		// reassembly. No NAT64/SIIT path currently returns Stolen; this
		// case is here so a future fragment-reassembly addition doesn't
		// silently fall through to a log line per packet.
	}
}

func (l *Loop) writeOut(_ context.Context, out *wire.Packet) {
	if err := l.conn.WritePacket(out.Data()); err != nil {
		if !errors.Is(err, context.Canceled) {
			l.log.Error("write translated packet failed",
				slog.String("instance", l.name), slog.String("error", err.Error()))
		}
	}
}

func familyLabel(f wire.Family) string {
	if f == wire.FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}
