package settings

import (
	"errors"
	"os"

	"github.com/netmove/netmove/client"
	"github.com/netmove/netmove/oerror"
	"github.com/netmove/netmove/server"
	"github.com/netmove/netmove/simulation"
	"github.com/netmove/netmove/weapons"
	"github.com/pelletier/go-toml"
)

// Settings contains everything the example binaries can be configured with.
type Settings struct {
	Server struct {
		Address  string
		TickRate float64
		// FpsMode is one of "fixed", "hybrid" or "uncapped".
		FpsMode            string
		MaxPlayers         int
		MaxCommandsPerTick int
		MaxStallTicks      int
		CommandWindow      int
		// RespawnDelay is how many seconds a despawned entity waits before it is respawned.
		RespawnDelay float64
		// Workers is the number of goroutines encoding and sending snapshots.
		Workers int
	}
	Client struct {
		FpsMin       float64
		FpsMax       float64
		BufferSize   int
		SmoothFactor float64
		SnapDistance float64
	}
	AntiLag struct {
		Retention    float64
		TieEpsilon   float64
		MaxRange     float64
		HitboxRadius float64
		HitboxHeight float64
	}
	Movement simulation.Constants
	Debug    struct {
		// StatsView is the address of the runtime statistics page. Empty disables it.
		StatsView string
		// SentryDSN enables crash reporting when set.
		SentryDSN string
		LogLevel  string
	}
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	s := Settings{}

	srv := server.DefaultConfig()
	s.Server.Address = ":19133"
	s.Server.TickRate = srv.TickRate
	s.Server.FpsMode = srv.FpsMode.String()
	s.Server.MaxPlayers = srv.MaxPlayers
	s.Server.MaxCommandsPerTick = srv.MaxCommandsPerTick
	s.Server.MaxStallTicks = srv.MaxStallTicks
	s.Server.CommandWindow = srv.CommandWindow
	s.Server.RespawnDelay = srv.RespawnDelay
	s.Server.Workers = 4

	cl := client.DefaultConfig()
	s.Client.FpsMin = cl.FpsMin
	s.Client.FpsMax = cl.FpsMax
	s.Client.BufferSize = cl.BufferSize
	s.Client.SmoothFactor = cl.SmoothFactor
	s.Client.SnapDistance = cl.SnapDistance

	w := weapons.DefaultConfig()
	s.AntiLag.Retention = srv.Retention
	s.AntiLag.TieEpsilon = w.TieEpsilon
	s.AntiLag.MaxRange = w.MaxRange
	s.AntiLag.HitboxRadius = float64(w.Hitbox.Radius)
	s.AntiLag.HitboxHeight = float64(w.Hitbox.Height)

	s.Movement = simulation.DefaultConstants()
	s.Debug.StatsView = "localhost:18066"
	s.Debug.LogLevel = "info"
	return s
}

// ServerConfig converts the settings to the configuration of a server.Authority.
func (s Settings) ServerConfig() (server.Config, error) {
	mode, err := server.ParseFpsMode(s.Server.FpsMode)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		TickRate:           s.Server.TickRate,
		FpsMode:            mode,
		MaxPlayers:         s.Server.MaxPlayers,
		MaxCommandsPerTick: s.Server.MaxCommandsPerTick,
		MaxStallTicks:      s.Server.MaxStallTicks,
		CommandWindow:      s.Server.CommandWindow,
		RespawnDelay:       s.Server.RespawnDelay,
		Retention:          s.AntiLag.Retention,
		Weapons: weapons.Config{
			Hitbox: weapons.Hitbox{
				Radius: float32(s.AntiLag.HitboxRadius),
				Height: float32(s.AntiLag.HitboxHeight),
			},
			TieEpsilon: s.AntiLag.TieEpsilon,
			MaxRange:   s.AntiLag.MaxRange,
		},
		Constants: s.Movement,
	}, nil
}

// ClientConfig converts the settings to the configuration of a client.Predictor.
func (s Settings) ClientConfig() client.Config {
	return client.Config{
		FpsMin:       s.Client.FpsMin,
		FpsMax:       s.Client.FpsMax,
		BufferSize:   s.Client.BufferSize,
		SmoothFactor: s.Client.SmoothFactor,
		SnapDistance: s.Client.SnapDistance,
	}
}

// SaveDefault will create and save the default settings file. If the file already exists, it will return an error.
func SaveDefault(path string) error {
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return oerror.New("settings file already exists")
	}
	data, err := toml.Marshal(DefaultSettings())
	if err != nil {
		return oerror.New("failed encoding default settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return oerror.New("failed creating settings file: %w", err)
	}
	return nil
}

// Load will load the settings from your settings file, and return an error if the file does not exist.
// Values missing from the file keep their defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, oerror.New("settings file doesn't exist")
	} else if err != nil {
		return Settings{}, oerror.New("error reading config: %w", err)
	}

	settings := DefaultSettings()
	if err = toml.Unmarshal(data, &settings); err != nil {
		return Settings{}, oerror.New("error decoding config: %w", err)
	}
	return settings, nil
}
