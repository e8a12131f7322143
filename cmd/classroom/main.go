// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// classroom joins a classroom as a student, teacher or station.
//
// The participant's device id is kept in a SQLite database under the
// state directory, next to the archive of the last classroom setup.
// Peers are found through a rendezvous server and linked over WebRTC
// data channels; after that, presence and setup flow peer to peer.
//
// With --tui the binary shows the live room view. Without it, it logs
// presence changes, which is the usual mode for stations.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/classroom/identity"
	"github.com/bureau-foundation/classroom/lib/classroomui"
	"github.com/bureau-foundation/classroom/lib/codec"
	"github.com/bureau-foundation/classroom/lib/config"
	"github.com/bureau-foundation/classroom/lib/sqlitepool"
	"github.com/bureau-foundation/classroom/lib/version"
	"github.com/bureau-foundation/classroom/presence"
	"github.com/bureau-foundation/classroom/session"
	"github.com/bureau-foundation/classroom/setup"
	"github.com/bureau-foundation/classroom/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags. Empty or zero values leave the
// configuration file's setting in place.
type options struct {
	configPath string
	classroom  string
	station    string
	role       string
	rooms      int
	rendezvous string
	identityDB string
	setupFile  string
	logOutput  string
	tui        bool
}

func (o *options) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "path to the YAML config file (default: $CLASSROOM_CONFIG)")
	flagSet.StringVar(&o.classroom, "classroom", "", "classroom id to join")
	flagSet.StringVar(&o.station, "station", "", "join as the numbered station instead of a person")
	flagSet.StringVar(&o.role, "role", "", "student or teacher")
	flagSet.IntVar(&o.rooms, "rooms", -1, "number of breakout rooms to open on join")
	flagSet.StringVar(&o.rendezvous, "rendezvous", "", "rendezvous server URL")
	flagSet.StringVar(&o.identityDB, "identity-db", "", "identity database path (default: <state>/identity.db)")
	flagSet.StringVar(&o.setupFile, "setup", "", "classroom definition (JSON or YAML) to publish")
	flagSet.StringVar(&o.logOutput, "log-output", "", "with --tui, write JSON log records to this file")
	flagSet.BoolVar(&o.tui, "tui", false, "show the interactive room view")
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("classroom", pflag.ContinueOnError)
	opts.addFlags(flagSet)
	showVersion := flagSet.Bool("version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("classroom")
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	var logger *slog.Logger
	if opts.tui {
		var logWriter io.Writer
		if opts.logOutput != "" {
			file, err := os.OpenFile(opts.logOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("opening log output: %w", err)
			}
			defer file.Close()
			logWriter = file
		}
		logger = newFileLogger(logWriter, level)
	} else {
		logger = newLogger(os.Stderr, level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	identityPath := opts.identityDB
	if identityPath == "" {
		identityPath = cfg.IdentityPath()
	}
	if err := os.MkdirAll(filepath.Dir(identityPath), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   identityPath,
		Schema: identity.Schema + setup.Schema,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	self, err := identity.Resolve(ctx, identity.NewSQLiteStore(pool), cfg.Station)
	if err != nil {
		return err
	}
	logger = logger.With("participant", self.Participant)

	role := presence.Role(cfg.Role)
	defaultRooms := cfg.DefaultRooms
	var initialSetup []byte
	if cfg.SetupFile != "" {
		prepared, err := prepareSetup(cfg.SetupFile, self.Device, defaultRooms)
		if err != nil {
			return err
		}
		initialSetup = prepared.data
		defaultRooms = prepared.rooms
		if prepared.teacher && !self.IsStation() {
			role = presence.RoleTeacher
		}
	}

	link, err := newTransport(cfg, self, logger)
	if err != nil {
		return err
	}
	compression, err := codec.ParseCompression(cfg.Gossip.Compression)
	if err != nil {
		return err
	}

	sess, err := session.New(ctx, session.Config{
		Classroom:         cfg.Classroom,
		Identity:          self,
		Role:              role,
		DefaultRooms:      defaultRooms,
		InitialSetup:      initialSetup,
		Archive:           setup.NewSQLiteArchive(pool),
		Logger:            logger,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		Liveness: &presence.LivenessPolicy{
			Timeout:    cfg.Presence.LivenessTimeout,
			Expire:     cfg.Presence.ExpireStale,
			PruneAfter: cfg.Presence.PruneAfter,
			Prune:      cfg.Presence.PruneTombstones,
		},
		GossipInterval: cfg.Gossip.Interval,
		SettleDelay:    cfg.Gossip.SettleDelay,
		Compression:    compression,
	}, link)
	if err != nil {
		link.Close()
		return err
	}
	defer sess.Close()

	logger.Info("joining classroom",
		"classroom", cfg.Classroom,
		"role", sess.Role(),
		"rendezvous", cfg.Transport.Rendezvous,
		"version", version.Info(),
	)

	if opts.tui {
		return runInteractive(ctx, sess)
	}
	return runHeadless(ctx, sess, logger)
}

// loadConfig reads the config file named by --config or
// CLASSROOM_CONFIG, falls back to defaults when neither is set, then
// applies environment and flag overrides.
func loadConfig(opts options) (*config.Config, error) {
	var environment config.Environment
	if err := config.ParseEnv(&environment); err != nil {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case environment.ConfigPath != "":
		cfg, err = config.LoadFile(environment.ConfigPath)
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvironment(environment)

	if opts.classroom != "" {
		cfg.Classroom = opts.classroom
	}
	if opts.station != "" {
		cfg.Station = opts.station
	}
	if opts.role != "" {
		cfg.Role = opts.role
	}
	if opts.rooms >= 0 {
		cfg.DefaultRooms = opts.rooms
	}
	if opts.rendezvous != "" {
		cfg.Transport.Rendezvous = opts.rendezvous
	}
	if opts.setupFile != "" {
		cfg.SetupFile = opts.setupFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// preparedSetup is a classroom definition ready to publish.
type preparedSetup struct {
	data    []byte
	rooms   int
	teacher bool
}

// prepareSetup reads a classroom definition. A device listed as a
// teacher publishes it whole; anyone else publishes it without its
// secret fields.
func prepareSetup(path, device string, fallbackRooms int) (preparedSetup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return preparedSetup{}, fmt.Errorf("reading classroom definition: %w", err)
	}
	classroom, err := config.ParseClassroom(raw)
	if err != nil {
		return preparedSetup{}, fmt.Errorf("%s: %w", path, err)
	}

	prepared := preparedSetup{
		rooms:   classroom.BaseRooms(fallbackRooms),
		teacher: classroom.IsTeacher(device),
	}
	if !prepared.teacher {
		classroom = classroom.WithoutSecrets()
	}
	prepared.data, err = classroom.Stringify()
	if err != nil {
		return preparedSetup{}, fmt.Errorf("%s: %w", path, err)
	}
	return prepared, nil
}

func newTransport(cfg *config.Config, self identity.Identity, logger *slog.Logger) (*transport.WebRTCTransport, error) {
	ice, err := transport.ICEConfigFromURLs(cfg.Transport.ICEServers)
	if err != nil {
		return nil, err
	}
	signaler, err := transport.NewHTTPSignaler(cfg.Transport.Rendezvous, nil)
	if err != nil {
		return nil, err
	}
	return transport.NewWebRTCTransport(transport.WebRTCConfig{
		Signaler:         signaler,
		Swarm:            transport.InfoHash(cfg.Classroom),
		Peer:             self.Participant,
		ICE:              ice,
		AnnounceInterval: cfg.Transport.AnnounceInterval,
		Logger:           logger,
	})
}

// runInteractive runs the session behind the TUI. Quitting the TUI
// ends the session.
func runInteractive(ctx context.Context, sess *session.Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subscription := sess.Subscribe()
	defer subscription.Close()

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- sess.Run(ctx) }()

	program := tea.NewProgram(classroomui.NewModel(sess, subscription.C()),
		tea.WithAltScreen(), tea.WithContext(ctx))
	_, uiErr := program.Run()

	cancel()
	sess.Close()
	err := <-sessionDone
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return uiErr
	}
	return ignoreCancel(err)
}

// runHeadless runs the session and logs every visible change.
func runHeadless(ctx context.Context, sess *session.Session, logger *slog.Logger) error {
	subscription := sess.Subscribe()
	defer subscription.Close()

	go func() {
		for update := range subscription.C() {
			if !update.Full {
				continue
			}
			logger.Info("presence changed",
				"rooms", len(update.Projection.Rooms),
				"users", len(update.Projection.Users),
				"room", sess.CurrentRoom(),
			)
		}
	}()
	go func() {
		for message := range sess.Messages() {
			logger.Info("room message", "room", message.Room, "from", message.From, "bytes", len(message.Body))
		}
	}()

	return ignoreCancel(sess.Run(ctx))
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
