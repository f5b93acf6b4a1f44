// The depotvault daemon caches manifest bundles and serves them over a
// REST API. Bundles are populated on demand from GitHub-style origin
// repositories, one branch per cache key.
//
// Configuration comes from an optional TOML file plus a few command line
// flags; flags win. A minimal config file looks like
//
//	StoreDir = "file:/var/depotvault/store"
//	Origins = ["SteamAutoCracks/ManifestHub", "sushimaster/depot-keys"]
//	Tokenfile = "/etc/depotvault/tokens"
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	raven "github.com/getsentry/raven-go"

	"github.com/depotvault/depotvault/origin"
	"github.com/depotvault/depotvault/server"
	"github.com/depotvault/depotvault/vault"
)

// Version is set by the build system (go build -ldflags "-X main.Version=...").
var Version = "devel"

type config struct {
	// server
	Port       string
	PProfPort  string
	Tokenfile  string
	Mysql      string
	RecordPath string
	ChunkLimit int64
	Cooldown   string // duration, e.g. "60s". empty disables the limit.

	// storage
	StoreDir string

	// origins
	Origins     []string
	GithubAPI   string
	GithubRaw   string
	GithubToken string
	FetchLimit  int
}

var defaultConfig = config{
	Port:       "14000",
	RecordPath: "memory",
	GithubAPI:  "https://api.github.com",
	GithubRaw:  "https://raw.githubusercontent.com",
}

func main() {
	var (
		configFile = flag.String("config-file", "", "location of the configuration file")
		storeDir   = flag.String("storage-dir", "", "location of the storage directory")
		portNumber = flag.String("port", "", "port number to run on")
		pprofPort  = flag.String("pprof-port", "", "port for the pprof server. disabled if empty")
		showVer    = flag.Bool("version", false, "display the version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("depotvault version %s\n", Version)
		return
	}

	conf := defaultConfig
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &conf); err != nil {
			log.Fatalln("Error reading config file:", err)
		}
	}
	// flags override the config file
	if *storeDir != "" {
		conf.StoreDir = *storeDir
	}
	if *portNumber != "" {
		conf.Port = *portNumber
	}
	if *pprofPort != "" {
		conf.PProfPort = *pprofPort
	}
	if len(conf.Origins) == 0 {
		log.Fatalln("No origin repositories configured")
	}

	// raven reads SENTRY_DSN from the environment
	raven.SetRelease(Version)

	var origins []origin.Repo
	for _, repo := range conf.Origins {
		origins = append(origins, origin.Repo(repo))
	}
	v := &vault.Vault{
		Store: parselocation(conf.StoreDir, "store"),
		Source: &origin.Client{
			APIBase:     conf.GithubAPI,
			RawBase:     conf.GithubRaw,
			Token:       conf.GithubToken,
			MatchSuffix: ".manifest",
			MatchFile:   "Key.vdf",
			FetchLimit:  conf.FetchLimit,
		},
		Origins: origins,
	}
	if v.Store == nil {
		log.Fatalln("Could not open storage location", conf.StoreDir)
	}

	var validator server.TokenDecoder
	if conf.Tokenfile != "" {
		var err error
		validator, err = server.NewListDecoderFile(conf.Tokenfile)
		if err != nil {
			log.Fatalln("Error parsing token file:", err)
		}
	}
	var cooldown *server.Cooldown
	if conf.Cooldown != "" {
		window, err := time.ParseDuration(conf.Cooldown)
		if err != nil {
			log.Fatalln("Error parsing Cooldown:", err)
		}
		cooldown = server.NewCooldown(window)
	}

	server.Version = Version
	s := &server.RESTServer{
		PortNumber: conf.Port,
		PProfPort:  conf.PProfPort,
		Vault:      v,
		ChunkLimit: conf.ChunkLimit,
		MySQL:      conf.Mysql,
		RecordPath: conf.RecordPath,
		Validator:  validator,
		Cooldown:   cooldown,
	}

	// set up signal handlers
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s2 := <-sig
		log.Println("---Received signal", s2)
		s.Stop()
	}()

	err := s.Run()
	if err != nil {
		log.Println(err)
	}
	log.Println("Exiting")
}
