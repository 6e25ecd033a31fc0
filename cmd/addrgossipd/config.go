// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/decred/addrgossip/addrmgr"
	"github.com/decred/addrgossip/discovery"
	"github.com/decred/addrgossip/guard"
	"github.com/decred/addrgossip/peer"
	"github.com/decred/addrgossip/wire"
	"github.com/decred/go-socks/socks"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename    = "addrgossipd.conf"
	defaultDataDirname       = "data"
	defaultLogDirname        = "logs"
	defaultLogFilename       = "addrgossipd.log"
	defaultLogLevel          = "info"
	defaultLogSizeKB         = 10 * 1024
	defaultLogRolls          = 3
	defaultListenPort        = "9108"
	defaultProxyPort         = "9050"
	defaultMaxPeers          = 125
	defaultTargetOutbound    = 8
	defaultSnapshotInterval  = 10 * time.Minute
	defaultDialTimeout       = 30 * time.Second
	defaultMetricsListenPort = "9109"
)

// defaultPort is the port of the network used when an address omits it.
const defaultPort uint16 = 9108

var (
	defaultAppDataDir = appDataDir("addrgossipd")
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
)

// appDataDir returns the default per user application data directory for the
// given application name.
func appDataDir(appName string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "."
	}
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, strings.ToUpper(appName[:1])+
				appName[1:])
		}
	case "darwin", "ios":
		return filepath.Join(homeDir, "Library", "Application Support",
			strings.ToUpper(appName[:1])+appName[1:])
	}
	return filepath.Join(homeDir, "."+appName)
}

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not caused
// by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// config defines the configuration options for addrgossipd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir    string `short:"A" long:"appdata" description:"Application data directory"`
	LogDir        string `long:"logdir" description:"Directory to log output"`
	NoFileLogging bool   `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Network settings.
	Listeners      []string      `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces port: 9108)"`
	NoListen       bool          `long:"nolisten" description:"Disable listening for incoming connections"`
	ConnectPeers   []string      `long:"connect" description:"Connect only to the specified peers at startup"`
	ExternalIPs    []string      `long:"externalip" description:"Add a routable address this node is reachable at"`
	DNSSeeds       []string      `long:"dnsseed" description:"Query the DNS seed for addresses when the address table is empty"`
	MaxPeers       int           `long:"maxpeers" description:"Max number of inbound and outbound peers"`
	TargetOutbound int           `long:"targetoutbound" description:"Number of outbound connections to maintain"`
	DialTimeout    time.Duration `long:"dialtimeout" description:"How long to wait for an outbound connection to complete"`
	Proxy          string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser      string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass      string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	TorIsolation   bool          `long:"torisolation" description:"Enable Tor stream isolation by randomizing user credentials for each connection"`

	// Discovery settings.
	Codec                   string        `long:"codec" description:"Wire encoding of discovery messages {compact, protobuf}"`
	MaxAddrsPerMsg          int           `long:"maxaddrspermsg" description:"Maximum number of addresses per message"`
	AnnounceSize            int           `long:"announcesize" description:"Number of known addresses in each announcement"`
	AnnounceInterval        time.Duration `long:"announceinterval" description:"Time between announcements to a peer"`
	AnnounceJitter          time.Duration `long:"announcejitter" description:"Maximum random delay added to each announcement"`
	NoRequestOnOpen         bool          `long:"norequestonopen" description:"Do not request the addresses of new peers"`
	TickInterval            time.Duration `long:"tickinterval" description:"Interval at which due announcements are checked"`
	StaleTTL                time.Duration `long:"stalettl" description:"Age after which an address that was not heard of is evicted"`
	StaleSweepInterval      time.Duration `long:"stalesweepinterval" description:"Time between sweeps for stale addresses"`
	InboundQueueSize        int           `long:"inboundqueuesize" description:"Number of received messages queued per peer"`
	GuardWindow             time.Duration `long:"guardwindow" description:"Length of the per-peer quota window"`
	GuardMaxMessages        int           `long:"guardmaxmsgs" description:"Discovery messages accepted from a peer per quota window"`
	GuardMaxAddrs           int           `long:"guardmaxaddrs" description:"Addresses accepted from a peer per quota window"`
	BucketCount             int           `long:"bucketcount" description:"Number of buckets in the address table"`
	BucketSize              int           `long:"bucketsize" description:"Number of addresses per bucket"`
	BucketsPerGroup         int           `long:"bucketspergroup" description:"Number of buckets the addresses of a network group may occupy"`
	TieBreak                string        `long:"tiebreak" description:"Eviction order among equally scored addresses {oldest, random}"`
	NoMisbehaviorDisconnect bool          `long:"nomisbehaviordisconnect" description:"Keep peers connected when they send malformed or oversized messages"`

	// Persistence and metrics.
	NoSnapshot       bool          `long:"nosnapshot" description:"Do not load or save the address table"`
	SnapshotInterval time.Duration `long:"snapshotinterval" description:"Time between saves of the address table"`
	MetricsListen    string        `long:"metricslisten" description:"Serve Prometheus metrics on the given address (eg. 127.0.0.1:9109)"`

	// The following fields are derived from the above fields by loadConfig.
	dataDir      string
	listenPort   uint16
	connectPeers []netip.AddrPort
	externalIPs  []netip.AddrPort
	codec        wire.Codec
	tieBreak     addrmgr.TieBreak
	proxy        *socks.Proxy
}

// cleanAndExpandPath expands environment variables and leading ~ in the passed
// path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// parseEndpoints converts the passed addresses to endpoints using the default
// port where none is given.  Only literal IP addresses are accepted.
func parseEndpoints(addrs []string, defaultPort, option string) ([]netip.AddrPort, error) {
	eps := make([]netip.AddrPort, 0, len(addrs))
	for _, addr := range addrs {
		ep, err := addrmgr.ParseEndpoint(normalizeAddress(addr, defaultPort))
		if err != nil {
			return nil, fmt.Errorf("invalid %s address %q: %w", option, addr,
				err)
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// defaultConfig returns a config with every default applied.
func defaultConfig() config {
	dcfg := discovery.DefaultConfig()
	return config{
		ConfigFile:         defaultConfigFile,
		AppDataDir:         defaultAppDataDir,
		DebugLevel:         defaultLogLevel,
		MaxPeers:           defaultMaxPeers,
		TargetOutbound:     defaultTargetOutbound,
		DialTimeout:        defaultDialTimeout,
		Codec:              wire.DefaultCodecName,
		MaxAddrsPerMsg:     dcfg.MaxAddrs,
		AnnounceSize:       dcfg.AnnounceSize,
		AnnounceInterval:   dcfg.AnnounceInterval,
		AnnounceJitter:     dcfg.AnnounceJitter,
		TickInterval:       dcfg.TickInterval,
		StaleTTL:           dcfg.StaleTTL,
		StaleSweepInterval: dcfg.StaleSweepInterval,
		InboundQueueSize:   dcfg.InboundQueueSize,
		GuardWindow:        dcfg.Guard.Window,
		GuardMaxMessages:   dcfg.Guard.MaxMessages,
		GuardMaxAddrs:      dcfg.Guard.MaxAddrs,
		BucketCount:        dcfg.AddrManager.BucketCount,
		BucketSize:         dcfg.AddrManager.BucketSize,
		BucketsPerGroup:    dcfg.AddrManager.BucketsPerGroup,
		TieBreak:           "oldest",
		SnapshotInterval:   defaultSnapshotInterval,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in addrgossipd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(appName string, args []string) (*config, []string, error) {
	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := defaultConfig()
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Update the default config file path when the application data
	// directory was changed without also specifying a config file.
	cfg := defaultConfig()
	if preCfg.AppDataDir != defaultAppDataDir &&
		preCfg.ConfigFile == defaultConfigFile {

		preCfg.ConfigFile = filepath.Join(cleanAndExpandPath(
			preCfg.AppDataDir), defaultConfigFilename)
	}

	// Load additional config from file.
	parser := newConfigParser(&cfg, flags.Default)
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			err := fmt.Errorf("error parsing config file: %w", err)
			return nil, nil, err
		}
		if preCfg.ConfigFile != defaultConfigFile {
			err := fmt.Errorf("unable to open config file %s: %w",
				configFile, err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	// Set the application data, data, and log directories.
	cfg.AppDataDir = cleanAndExpandPath(cfg.AppDataDir)
	cfg.dataDir = filepath.Join(cfg.AppDataDir, defaultDataDirname)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, defaultLogDirname)
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	if !cfg.NoFileLogging {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		err := initLogRotator(logFile, defaultLogSizeKB, defaultLogRolls)
		if err != nil {
			return nil, nil, errSuppressUsage(err.Error())
		}
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %w", "loadConfig", err)
		return nil, nil, err
	}

	// Validate the connection limits.
	if cfg.MaxPeers <= 0 || cfg.TargetOutbound <= 0 {
		str := "%s: maxpeers and targetoutbound must be positive"
		return nil, nil, fmt.Errorf(str, "loadConfig")
	}
	if cfg.TargetOutbound > cfg.MaxPeers {
		str := "%s: targetoutbound (%d) must not exceed maxpeers (%d)"
		return nil, nil, fmt.Errorf(str, "loadConfig", cfg.TargetOutbound,
			cfg.MaxPeers)
	}

	// Add the default listener if none were specified.  The default
	// listener is all addresses on the listen port for the network.
	if cfg.NoListen {
		cfg.Listeners = nil
	} else if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{net.JoinHostPort("", defaultListenPort)}
	}
	for i, addr := range cfg.Listeners {
		cfg.Listeners[i] = normalizeAddress(addr, defaultListenPort)
	}
	if len(cfg.Listeners) > 0 {
		_, port, _ := net.SplitHostPort(cfg.Listeners[0])
		listenPort, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			str := "%s: invalid listen port %q: %w"
			return nil, nil, fmt.Errorf(str, "loadConfig", port, err)
		}
		cfg.listenPort = uint16(listenPort)
	}

	// Parse the peers to connect to and the external addresses.
	cfg.connectPeers, err = parseEndpoints(cfg.ConnectPeers,
		defaultListenPort, "connect")
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", "loadConfig", err)
	}
	cfg.externalIPs, err = parseEndpoints(cfg.ExternalIPs,
		defaultListenPort, "externalip")
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", "loadConfig", err)
	}

	// Look up the wire codec.
	cfg.codec, err = wire.CodecByName(cfg.Codec)
	if err != nil {
		str := "%s: %v -- supported codecs %v"
		return nil, nil, fmt.Errorf(str, "loadConfig", err, wire.CodecNames())
	}

	switch cfg.TieBreak {
	case "oldest":
		cfg.tieBreak = addrmgr.TieBreakOldest
	case "random":
		cfg.tieBreak = addrmgr.TieBreakRandom
	default:
		str := "%s: unknown tie-break rule %q -- supported rules " +
			"[oldest random]"
		return nil, nil, fmt.Errorf(str, "loadConfig", cfg.TieBreak)
	}

	// Setup the proxy.
	if cfg.Proxy != "" {
		cfg.Proxy = normalizeAddress(cfg.Proxy, defaultProxyPort)
		cfg.proxy = &socks.Proxy{
			Addr:         cfg.Proxy,
			Username:     cfg.ProxyUser,
			Password:     cfg.ProxyPass,
			TorIsolation: cfg.TorIsolation,
		}
	} else if cfg.ProxyUser != "" || cfg.ProxyPass != "" {
		str := "%s: proxyuser and proxypass require proxy"
		return nil, nil, fmt.Errorf(str, "loadConfig")
	}

	if cfg.MetricsListen != "" {
		cfg.MetricsListen = normalizeAddress(cfg.MetricsListen,
			defaultMetricsListenPort)
	}
	if !cfg.NoSnapshot && cfg.SnapshotInterval <= 0 {
		str := "%s: snapshotinterval must be positive"
		return nil, nil, fmt.Errorf(str, "loadConfig")
	}

	// Validate the discovery parameters as a whole.
	dcfg := cfg.discoveryConfig()
	if err := dcfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", "loadConfig", err)
	}

	return &cfg, remainingArgs, nil
}

// misbehaviorVerdict is the default policy applied to misbehaving peers.
// Malformed and oversized messages disconnect the peer.
func misbehaviorVerdict(kind peer.Misbehavior) discovery.MisbehaviorVerdict {
	switch kind {
	case peer.MisbehaviorDecodeFailure, peer.MisbehaviorTooManyAddrs:
		return discovery.MisbehaveDisconnect
	}
	return discovery.MisbehaveContinue
}

// discoveryConfig maps the options onto a discovery service configuration.
func (cfg *config) discoveryConfig() discovery.Config {
	dcfg := discovery.DefaultConfig()
	dcfg.AddrManager.BucketCount = cfg.BucketCount
	dcfg.AddrManager.BucketSize = cfg.BucketSize
	dcfg.AddrManager.BucketsPerGroup = cfg.BucketsPerGroup
	dcfg.AddrManager.TieBreak = cfg.tieBreak
	dcfg.Codec = cfg.codec
	dcfg.Guard = guard.Config{
		Window:      cfg.GuardWindow,
		MaxMessages: cfg.GuardMaxMessages,
		MaxAddrs:    cfg.GuardMaxAddrs,
	}
	dcfg.MaxAddrs = cfg.MaxAddrsPerMsg
	dcfg.AnnounceSize = cfg.AnnounceSize
	dcfg.AnnounceInterval = cfg.AnnounceInterval
	dcfg.AnnounceJitter = cfg.AnnounceJitter
	dcfg.RequestOnOpen = !cfg.NoRequestOnOpen
	dcfg.TickInterval = cfg.TickInterval
	dcfg.StaleTTL = cfg.StaleTTL
	dcfg.StaleSweepInterval = cfg.StaleSweepInterval
	dcfg.InboundQueueSize = cfg.InboundQueueSize
	return dcfg
}
