package main

import (
	"io"

	"github.com/shaunagostinho/bleat/internal/at"
	"github.com/shaunagostinho/bleat/internal/config"
	"github.com/shaunagostinho/bleat/internal/module"
	"github.com/shaunagostinho/bleat/internal/transcript"
	"github.com/shaunagostinho/bleat/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// link is a transport the CLI owns and must close.
type link interface {
	at.Transport
	io.Closer
}

// session bundles everything a subcommand needs to talk to the module.
type session struct {
	cfg      *config.Config
	log      *logrus.Logger
	demo     bool
	echo     io.Writer
	recorder *transcript.Recorder

	link   link
	engine *at.Engine
	radio  *module.Radio
}

// loadSession reads config and flags but does not open the port.
func loadSession(cmd *cobra.Command) (*session, error) {
	path, _ := cmd.Flags().GetString("config")

	// the config file can set the log level, so it is read with a
	// flags-only logger
	bootLog, err := configureLogger(cmd, "")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, bootLog)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)

	log, err := configureLogger(cmd, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	demo, _ := cmd.Flags().GetBool("demo")

	return &session{
		cfg:  cfg,
		log:  log,
		demo: demo,
		echo: cmd.ErrOrStderr(),
		recorder: transcript.New(transcript.Config{
			Enabled: cfg.Transcript.Enabled,
			Path:    cfg.Transcript.Path,
		}, log),
	}, nil
}

// applyFlags overrides config values with flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Serial.Port, _ = f.GetString("port")
	}
	if f.Changed("baud") {
		cfg.Serial.BaudRate, _ = f.GetInt("baud")
	}
	if f.Changed("timeout") {
		cfg.Engine.TimeoutMs, _ = f.GetInt("timeout")
	}
	if f.Changed("debug") {
		cfg.Engine.Debug, _ = f.GetBool("debug")
	}
	if f.Changed("no-color") {
		noColor, _ := f.GetBool("no-color")
		cfg.Engine.Color = !noColor
	}
}

// openSession loads config and opens the module link.
func openSession(cmd *cobra.Command) (*session, error) {
	s, err := loadSession(cmd)
	if err != nil {
		return nil, err
	}
	if err := s.connect(); err != nil {
		s.recorder.Close()
		return nil, err
	}
	return s, nil
}

// connect opens the serial port, or a simulator in demo mode.
func (s *session) connect() error {
	if s.demo {
		s.link = transport.NewSimulator()
		s.log.WithField("component", "serial").Info("using simulated module")
	} else {
		port, err := transport.OpenSerial(transport.SerialConfig{
			Port:     s.cfg.Serial.Port,
			BaudRate: s.cfg.Serial.BaudRate,
		}, s.log)
		if err != nil {
			return err
		}
		s.link = port
	}
	s.engine = at.New(s.link, s.engineConfig())
	s.radio = module.New(s.engine)
	return nil
}

func (s *session) engineConfig() at.Config {
	return at.Config{
		Timeout:  s.cfg.Timeout(),
		Debug:    s.cfg.Engine.Debug,
		Echo:     newEcho(s.echo, s.cfg.Engine.Color),
		Recorder: s.recorder,
		Logger:   s.log,
	}
}

// Close releases the link and flushes the transcript.
func (s *session) Close() error {
	s.recorder.Close()
	if s.link == nil {
		return nil
	}
	return s.link.Close()
}
