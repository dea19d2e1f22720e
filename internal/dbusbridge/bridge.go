// Package dbusbridge projects the scanner onto the session bus.
//
// The exported object answers Snapshot, SetPeriod and Text, and emits
// Committed after every committed symbol and PositionChanged after every
// tick and blink. Signals are emitted from a separate goroutine so the
// pipeline loop never waits on the bus.
package dbusbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"blinkscan/internal/pipeline"
)

// Default names used when the configuration leaves them empty.
const (
	DefaultBusName    = "io.blinkscan.Scanner"
	DefaultObjectPath = "/io/blinkscan/Scanner"
	Interface         = "io.blinkscan.Scanner"

	signalQueue = 64
	callTimeout = 2 * time.Second
)

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("dbusbridge: bus name already taken")

// Controller is the part of the pipeline reachable over the bus.
type Controller interface {
	View() pipeline.View
	SetPeriod(ctx context.Context, d time.Duration) error
	Text(ctx context.Context) (string, error)
}

// Emitter sends signals. *dbus.Conn satisfies it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Bridge forwards pipeline events to the bus.
type Bridge struct {
	ctrl    Controller
	emitter Emitter
	path    dbus.ObjectPath
	logger  *slog.Logger

	events chan pipeline.Event
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	dropped uint64
}

// New returns a bridge emitting through e. Call Start to begin forwarding.
func New(ctrl Controller, e Emitter, path dbus.ObjectPath, logger *slog.Logger) *Bridge {
	if path == "" {
		path = DefaultObjectPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		ctrl:    ctrl,
		emitter: e,
		path:    path,
		logger:  logger.With("component", "dbus"),
		events:  make(chan pipeline.Event, signalQueue),
		quit:    make(chan struct{}),
	}
}

// Start runs the signal goroutine.
func (b *Bridge) Start() {
	b.wg.Add(1)
	go b.loop()
}

// Stop drains queued signals and stops the goroutine.
func (b *Bridge) Stop() {
	b.once.Do(func() { close(b.quit) })
	b.wg.Wait()
}

// Observe implements pipeline.Observer. A full queue drops the event.
func (b *Bridge) Observe(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventTick, pipeline.EventBlink, pipeline.EventCommit, pipeline.EventResume:
	default:
		return
	}
	select {
	case b.events <- ev:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Dropped returns how many events were discarded on a full queue.
func (b *Bridge) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bridge) loop() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.events:
			b.emit(ev)
		case <-b.quit:
			for {
				select {
				case ev := <-b.events:
					b.emit(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) emit(ev pipeline.Event) {
	if ev.Kind == pipeline.EventCommit && ev.Commit != nil {
		if err := b.emitter.Emit(b.path, Interface+".Committed", ev.Commit.Symbol); err != nil {
			b.logger.Debug("emit Committed failed", "error", err)
		}
	}
	v := ev.View
	if err := b.emitter.Emit(b.path, Interface+".PositionChanged",
		v.Area.String(), v.Mode.String(), int32(v.Row), int32(v.Col), v.Paused); err != nil {
		b.logger.Debug("emit PositionChanged failed", "error", err)
	}
}

// Snapshot returns the current view as JSON.
func (b *Bridge) Snapshot() (string, *dbus.Error) {
	data, err := json.Marshal(b.ctrl.View())
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(data), nil
}

// SetPeriod changes the scan period, in milliseconds.
func (b *Bridge) SetPeriod(ms uint32) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := b.ctrl.SetPeriod(ctx, time.Duration(ms)*time.Millisecond); err != nil {
		return dbus.NewError(Interface+".Error.InvalidArgs", []interface{}{err.Error()})
	}
	return nil
}

// Text returns the message buffer.
func (b *Bridge) Text() (string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	text, err := b.ctrl.Text(ctx)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return text, nil
}

func (b *Bridge) introspection() *introspect.Node {
	return &introspect.Node{
		Name: string(b.path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: Interface,
				Methods: []introspect.Method{
					{Name: "Snapshot", Args: []introspect.Arg{{Name: "view", Type: "s", Direction: "out"}}},
					{Name: "SetPeriod", Args: []introspect.Arg{{Name: "ms", Type: "u", Direction: "in"}}},
					{Name: "Text", Args: []introspect.Arg{{Name: "text", Type: "s", Direction: "out"}}},
				},
				Signals: []introspect.Signal{
					{Name: "Committed", Args: []introspect.Arg{{Name: "symbol", Type: "s"}}},
					{Name: "PositionChanged", Args: []introspect.Arg{
						{Name: "area", Type: "s"},
						{Name: "mode", Type: "s"},
						{Name: "row", Type: "i"},
						{Name: "col", Type: "i"},
						{Name: "paused", Type: "b"},
					}},
				},
			},
		},
	}
}

// Conn is an exported bridge on the session bus.
type Conn struct {
	*Bridge
	conn *dbus.Conn
}

// Connect exports a bridge on the session bus under busName and starts it.
func Connect(ctrl Controller, busName, path string, logger *slog.Logger) (*Conn, error) {
	if busName == "" {
		busName = DefaultBusName
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	b := New(ctrl, conn, dbus.ObjectPath(path), logger)
	if err := conn.Export(b, b.path, Interface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export scanner: %w", err)
	}
	if err := conn.Export(introspect.NewIntrospectable(b.introspection()), b.path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", busName, ErrNameTaken)
	}

	b.Start()
	b.logger.Info("d-bus bridge exported", "name", busName, "path", b.path)
	return &Conn{Bridge: b, conn: conn}, nil
}

// Close stops signal delivery and closes the bus connection.
func (c *Conn) Close() error {
	c.Bridge.Stop()
	return c.conn.Close()
}
