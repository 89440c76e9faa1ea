package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/adscope/config"
	"github.com/nasa-jpl/adscope/dwf"
	"github.com/nasa-jpl/adscope/usbprobe"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like.  ADSCOPE_CONFIG overrides it
	ConfigFileName = "adscope.yml"
)

func root() {
	str := `adscope streams samples from an Analog Discovery 2 and exposes capture
control, a live preview, and the recorded data over HTTP.

Usage:
	adscope <command>

Commands:
	run
	list
	probe
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `adscope is amenable to configuration via its .yml file and the environment.
For a primer on YAML, see https://yaml.org/start.html

mkconf writes the defaults to adscope.yml; conf prints the settings in effect.
Any key may be overridden by an environment variable prefixed ADSCOPE_, with
nested keys separated by a double underscore, e.g.
	ADSCOPE_SAMPLERATE=2000
	ADSCOPE_AUTOWRITE__FORMAT=parquet

Mock: true runs against simulated devices, which needs no WaveForms runtime.
Without it the binary must be built with -tags dwf.

Connect: true opens DeviceIndex at startup, otherwise POST /device/open.

GET /endpoints lists every route.  Mutating routes answer 423 while the
server is locked via POST /lock {"bool": true}.`
	fmt.Println(str)
}

func configPath() string {
	if p := os.Getenv("ADSCOPE_CONFIG"); p != "" {
		return p
	}
	return ConfigFileName
}

func mustLoad() config.Config {
	_, c, err := config.Load(configPath())
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := mustLoad()
	if err := config.WriteFile(configPath(), c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := mustLoad()
	if err := config.Write(os.Stdout, c); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("adscope version %v\n", Version)
}

func spinner(suffix string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + suffix,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func list() {
	c := mustLoad()
	drv, err := newDriver(c)
	if err != nil {
		log.Fatal(err)
	}
	s := spinner("enumerating devices")
	s.Start()
	devs, err := drv.Enumerate()
	if err != nil {
		s.StopFailMessage(err.Error())
		s.StopFail()
		os.Exit(1)
	}
	s.StopMessage(fmt.Sprintf("%d device(s)", len(devs)))
	s.Stop()
	for _, d := range devs {
		if d.Type == dwf.TypeDemo && !(c.ShowSimulators || c.Mock) {
			continue
		}
		fmt.Printf("%d\t%s\tSN:%s\t%s\n", d.Index, d.Name, d.SerialNumber, d.Type)
	}
}

func probe() {
	s := spinner("scanning USB bus")
	s.Start()
	found, err := usbprobe.Scan()
	if err != nil {
		s.StopFailMessage(err.Error())
		s.StopFail()
		os.Exit(1)
	}
	s.StopMessage(fmt.Sprintf("%d Digilent device(s)", len(found)))
	s.Stop()
	for _, f := range found {
		fmt.Println(f)
	}
}

func run() {
	c := mustLoad()
	logger := log.New(os.Stderr, "adscope ", log.LstdFlags)
	a, err := setup(c, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer a.ctl.Close()
	mux := BuildMux(c, a)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "list":
		list()
	case "probe":
		probe()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
