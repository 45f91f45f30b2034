package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/client"
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/game"
	"github.com/netmove/netmove/geometry"
	"github.com/netmove/netmove/network"
	"github.com/netmove/netmove/protocol"
	"github.com/netmove/netmove/settings"
	"github.com/netmove/netmove/simulation"
	"github.com/sirupsen/logrus"
)

const (
	arenaSize, arenaHeight = 32, 4
	frameRate              = 60
	eyeHeight              = 1.5
)

// The following program connects a headless client that runs in circles, jumps now and then and fires
// straight ahead once a second, printing how its prediction fares against the server.
func main() {
	addr := flag.String("addr", "127.0.0.1:19133", "address of the server")
	path := flag.String("config", "netmove.toml", "path to the settings file")
	flag.Parse()

	lg := logrus.New()
	lg.Formatter = &logrus.TextFormatter{ForceColors: true}
	lg.Level = logrus.DebugLevel

	s, err := settings.Load(*path)
	if err != nil {
		lg.Warnf("using default settings: %v", err)
		s = settings.DefaultSettings()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, time.Second*5)
	conn, err := network.Dial(dialCtx, *addr)
	cancel()
	if err != nil {
		lg.Fatalf("unable to connect: %v", err)
	}
	defer conn.Close()

	m, err := conn.ReadMessage()
	if err != nil {
		lg.Fatalf("no greeting from server: %v", err)
	}
	hello, ok := m.(*protocol.Hello)
	if !ok {
		lg.Fatalf("expected hello, got %T", m)
	}
	lg.Infof("joined as entity %d at server time %.2f", hello.EntityID, hello.ServerTime)

	sim := simulation.New(geometry.NewArena(arenaSize, arenaHeight), simulation.NewModeTable(), s.Movement, hello.State.Pos)
	sim.State = hello.State
	p, err := client.NewPredictor(sim, s.ClientConfig(), func(cmds []command.Command) {
		if err := conn.WriteMessage(&protocol.Commands{Commands: cmds}); err != nil {
			lg.Debugf("unable to send commands: %v", err)
		}
	}, lg)
	if err != nil {
		lg.Fatalf("unable to create predictor: %v", err)
	}

	snapshots := make(chan protocol.Snapshot, 64)
	go func() {
		defer stop()
		for {
			m, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					lg.Errorf("lost connection: %v", err)
				}
				return
			}
			if snap, ok := m.(*protocol.Snapshot); ok {
				snapshots <- *snap
			}
		}
	}()

	run(ctx, conn, p, snapshots, hello.ServerTime, lg)
}

// run drives the predictor at frameRate until ctx is done.
func run(ctx context.Context, conn *network.Conn, p *client.Predictor, snapshots <-chan protocol.Snapshot, serverTime float64, lg *logrus.Logger) {
	t := time.NewTicker(time.Second / frameRate)
	defer t.Stop()

	start, last := time.Now(), time.Now()
	var lastFire, lastReport float64
	corrections := 0
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			res, err := p.ApplySnapshot(snap)
			if err != nil {
				lg.Warnf("bad snapshot: %v", err)
			} else if res == client.ReconcileCorrected {
				corrections++
			}
		case now := <-t.C:
			dt := now.Sub(last).Seconds()
			last = now
			elapsed := now.Sub(start).Seconds()

			angle := elapsed * 0.5
			dir := game.AngleToVec(angle)
			var actions command.ActionFlags
			if math.Mod(elapsed, 2) < dt {
				actions |= command.ActionJump
			}
			p.Tick(command.Input{WishDir: dir, LookAngle: angle, Actions: actions}, dt, elapsed)

			if elapsed-lastFire >= 1 {
				lastFire = elapsed
				eye := p.VisualPosition().Add(mgl64.Vec3{0, eyeHeight, 0})
				fire := &protocol.Fire{ClaimedTime: serverTime + elapsed, Origins: []mgl64.Vec3{eye}, Directions: []mgl64.Vec3{dir}}
				if err := conn.WriteMessage(fire); err != nil {
					lg.Debugf("unable to fire: %v", err)
				}
			}
			if elapsed-lastReport >= 5 {
				lastReport = elapsed
				ack, _ := p.LastAck()
				lg.Infof("at %.2f, acked %d, %d unacknowledged, %d corrections", p.VisualPosition(), ack, len(p.Entries()), corrections)
			}
		}
	}
}
