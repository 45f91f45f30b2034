package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/antilag"
	"github.com/netmove/netmove/geometry"
	"github.com/netmove/netmove/network"
	"github.com/netmove/netmove/protocol"
	"github.com/netmove/netmove/server"
	"github.com/netmove/netmove/settings"
	"github.com/netmove/netmove/simulation"
	"github.com/netmove/netmove/worker"
	"github.com/sirupsen/logrus"
)

const arenaSize, arenaHeight = 32, 4

// The following program runs an authoritative server in a walled arena with a couple of pillars to hide behind.
func main() {
	path := flag.String("config", "netmove.toml", "path to the settings file")
	flag.Parse()

	lg := logrus.New()
	lg.Formatter = &logrus.TextFormatter{ForceColors: true}

	if err := settings.SaveDefault(*path); err == nil {
		lg.Infof("created default settings at %s", *path)
	}
	s, err := settings.Load(*path)
	if err != nil {
		lg.Fatalf("unable to load settings: %v", err)
	}
	if lvl, err := logrus.ParseLevel(s.Debug.LogLevel); err == nil {
		lg.Level = lvl
	}

	if s.Debug.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: s.Debug.SentryDSN}); err != nil {
			lg.Errorf("unable to initialize sentry: %v", err)
		}
		defer sentry.Flush(time.Second * 2)
	}
	if s.Debug.StatsView != "" {
		viewer.SetConfiguration(viewer.WithTheme(viewer.ThemeWesteros), viewer.WithAddr(s.Debug.StatsView))
		mgr := statsview.New()
		go mgr.Start()
	}

	cfg, err := s.ServerConfig()
	if err != nil {
		lg.Fatalf("invalid settings: %v", err)
	}

	pool := worker.New(s.Server.Workers, 1024)
	defer pool.Close()

	// conns is only touched on the server loop goroutine.
	conns := make(map[antilag.EntityID]*network.Conn)
	sink := func(id antilag.EntityID, snap protocol.Snapshot) {
		conn, ok := conns[id]
		if !ok {
			return
		}
		if !pool.Submit(func() { _ = conn.WriteMessage(&snap) }) {
			lg.Debugf("dropped snapshot %d for entity %d", snap.Ack, id)
		}
	}

	a, err := server.New(cfg, geometry.NewArena(arenaSize, arenaHeight), simulation.NewModeTable(), sink, lg)
	if err != nil {
		lg.Fatalf("unable to create server: %v", err)
	}

	l, err := network.Listen(s.Server.Address)
	if err != nil {
		lg.Fatalf("unable to listen: %v", err)
	}
	lg.Infof("listening on %s at %.0f ticks per second (%s)", l.Addr(), cfg.TickRate, cfg.FpsMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go handleConn(ctx, a, conn, conns, lg)
		}
	}()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Errorf("server stopped: %v", err)
	}
	lg.Info("server closed")
}

// handleConn spawns an entity for conn and feeds its messages to the server until the connection closes.
func handleConn(ctx context.Context, a *server.Authority, conn *network.Conn, conns map[antilag.EntityID]*network.Conn, lg *logrus.Logger) {
	defer conn.Close()

	var (
		id    antilag.EntityID
		hello protocol.Hello
		err   error
	)
	if doErr := a.Do(ctx, func() {
		var p *server.PlayerRecord
		if p, err = a.Connect(); err != nil {
			return
		}
		id = p.ID()
		if err = a.Spawn(id, mgl64.Vec3{0, 0, 0}); err != nil {
			a.Disconnect(id)
			return
		}
		_ = a.SetAllowedToSpawn(id, true)
		conns[id] = conn
		hello = protocol.Hello{EntityID: uint32(id), ServerTime: a.ServerTime(), TickRate: a.Config().TickRate, State: p.State()}
	}); doErr != nil || err != nil {
		lg.Warnf("rejected connection from %s: %v", conn.RemoteAddr(), errors.Join(doErr, err))
		return
	}
	log := lg.WithField("entity", id)
	log.Infof("%s joined", conn.RemoteAddr())

	defer func() {
		_ = a.Do(ctx, func() {
			delete(conns, id)
			a.Disconnect(id)
		})
		log.Info("left")
	}()
	if err := conn.WriteMessage(&hello); err != nil {
		log.Errorf("unable to greet: %v", err)
		return
	}

	for {
		m, err := conn.ReadMessage()
		if err != nil {
			if !conn.Closed() && ctx.Err() == nil {
				log.Debugf("connection closed: %v", err)
			}
			return
		}
		switch m := m.(type) {
		case *protocol.Commands:
			err = a.Do(ctx, func() {
				for _, cmd := range m.Commands {
					if _, err := a.Submit(id, cmd); err != nil {
						log.Debugf("command %d: %v", cmd.Sequence, err)
					}
				}
			})
		case *protocol.Fire:
			err = a.Do(ctx, func() {
				results, err := a.FireMulti(ctx, id, m.Origins, m.Directions, m.ClaimedTime, geometry.Filter{})
				if err != nil {
					log.Debugf("fire rejected: %v", err)
					return
				}
				for _, res := range results {
					if res.HasEntity {
						log.Infof("hit entity %d at %.2f blocks", res.Entity, res.Distance)
					}
				}
			})
		default:
			log.Debugf("unexpected %T from client", m)
		}
		if err != nil {
			return
		}
	}
}
