package settings

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/vaughan0/go-ini"
	strduration "github.com/xhit/go-str2duration/v2"
)

const (
	// The following constants define daemon-related files under Root.

	PrefsFilename        = "prefs.json"
	SinkPolicyFilename   = "sink-volume-policy.json"
	SourcePolicyFilename = "source-volume-policy.json"
)

// Settings is the collection of all audiod settings. This is separated out
// in order to be able to reuse in various tests.
type Settings struct {
	// default section
	Root             string   // root directory for audiod
	Listen           []string // websocket listen addresses and port
	PrefsFile        string   // persistent preference table
	SinkPolicyFile   string   // sink volume policy config
	SourcePolicyFile string   // source volume policy config

	// mixer section
	ModernSinks    []string      // virtual sinks routed to the modern backend
	ModernSources  []string      // virtual sources routed to the modern backend
	RequestTimeout time.Duration // deadline for backend request replies

	// log section
	LogFile    string // log filename
	DebugLevel string // debug level config string
	Profiler   string // go profiler link

	// Versioner is a function that returns the current app version.
	Versioner func() string

	// LogStdOut is the stdout to write the log to. Defaults to os.Stdout.
	LogStdOut io.Writer
}

var errIniNotFound = errors.New("not found")

// New returns a default settings structure.
func New() *Settings {
	return &Settings{
		// default
		Root:             "~/.audiod",
		Listen:           []string{"127.0.0.1:7742"},
		PrefsFile:        "~/.audiod/" + PrefsFilename,
		SinkPolicyFile:   "~/.audiod/" + SinkPolicyFilename,
		SourcePolicyFile: "~/.audiod/" + SourcePolicyFilename,

		// mixer
		RequestTimeout: time.Second * 10,

		// log
		LogFile:    "~/.audiod/audiod.log",
		DebugLevel: "info",
		Profiler:   "",

		Versioner: func() string { return "" },
		LogStdOut: os.Stdout,
	}
}

// Load retrieves settings from an ini file. Additionally it expands all ~
// to the current user home directory.
func (s *Settings) Load(filename string) error {
	// parse file
	cfg, err := ini.LoadFile(filename)
	if err != nil {
		return err
	}

	home, err := homedir.Dir()
	if err != nil {
		return err
	}
	expand := func(p string) string {
		return strings.Replace(p, "~", home, 1)
	}

	// root directory
	root, ok := cfg.Get("", "root")
	if ok {
		s.Root = root
	}
	s.Root = expand(s.Root)

	// listen address
	rawListen, ok := cfg.Get("", "listen")
	if ok {
		listenList := strings.Split(rawListen, ",")
		for i := range listenList {
			listenList[i] = strings.TrimSpace(listenList[i])
		}
		s.Listen = listenList
	}

	prefsFile, ok := cfg.Get("", "prefsfile")
	if ok {
		s.PrefsFile = prefsFile
	}
	s.PrefsFile = expand(s.PrefsFile)

	sinkPolicy, ok := cfg.Get("", "sinkpolicy")
	if ok {
		s.SinkPolicyFile = sinkPolicy
	}
	s.SinkPolicyFile = expand(s.SinkPolicyFile)

	sourcePolicy, ok := cfg.Get("", "sourcepolicy")
	if ok {
		s.SourcePolicyFile = sourcePolicy
	}
	s.SourcePolicyFile = expand(s.SourcePolicyFile)

	// mixer
	rawSinks, ok := cfg.Get("mixer", "modernsinks")
	if ok {
		s.ModernSinks = splitList(rawSinks)
	}
	rawSources, ok := cfg.Get("mixer", "modernsources")
	if ok {
		s.ModernSources = splitList(rawSources)
	}
	err = iniDuration(cfg, &s.RequestTimeout, "mixer", "requesttimeout")
	if err != nil && !errors.Is(err, errIniNotFound) {
		return err
	}
	if s.RequestTimeout < time.Second {
		return fmt.Errorf("requesttimeout must be at least one second")
	}

	// logging and debug
	logFile, ok := cfg.Get("log", "logfile")
	if ok {
		s.LogFile = logFile
	}
	s.LogFile = expand(s.LogFile)

	debugLevel, ok := cfg.Get("log", "debuglevel")
	if ok {
		s.DebugLevel = debugLevel
	}

	profiler, ok := cfg.Get("log", "profiler")
	if ok {
		s.Profiler = profiler
	}

	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func iniDuration(cfg ini.File, p *time.Duration, section, key string) error {
	v, ok := cfg.Get(section, key)
	if !ok {
		return errIniNotFound
	}

	dur, err := strduration.ParseDuration(v)
	if err == nil {
		*p = dur
	}
	return err
}
