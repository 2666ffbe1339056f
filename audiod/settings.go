package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/chirpaudio/audiod/internal/version"
	"github.com/chirpaudio/audiod/settings"
)

func ObtainSettings() (*settings.Settings, error) {
	// defaults
	s := settings.New()

	// setup default paths
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	// config file
	filename := flag.String("cfg", filepath.Join(home, ".audiod", "audiod.conf"),
		"config file")
	versionFlag := flag.Bool("version", false, "show version")
	flag.Parse()

	if *versionFlag {
		fmt.Fprintf(os.Stderr, "audiod %s (%s)\n",
			version.String(), runtime.Version())
		os.Exit(0)
	}

	// load file
	err = s.Load(*filename)
	if err != nil {
		return nil, err
	}

	return s, nil
}
