package recoverycfg

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/build"
)

const (
	// DefaultConfigFilename is the name of the ini file read from the
	// data directory.
	DefaultConfigFilename = "recoverykit.conf"

	defaultLogDirname  = "logs"
	defaultLogFilename = "recoverykit.log"
	defaultLogLevel    = "info"
)

var (
	// DefaultDataDir is the default directory for the database, logs
	// and config file.
	DefaultDataDir = btcutil.AppDataDir("recoverykit", false)

	// DefaultConfigFile is the default path of the ini file.
	DefaultConfigFile = filepath.Join(DefaultDataDir, DefaultConfigFilename)
)

// Config is the configuration of the recovery tooling.
//
//nolint:lll
type Config struct {
	DataDir    string `long:"datadir" description:"The directory holding the database and logs."`
	ConfigFile string `long:"configfile" description:"Path to the ini configuration file."`

	AccountID   string `long:"account" description:"The account to operate on."`
	Network     string `long:"network" description:"The bitcoin network of the account." choice:"bitcoin" choice:"testnet" choice:"signet" choice:"regtest"`
	Environment string `long:"environment" description:"The trust service deployment of the account." choice:"Production" choice:"Staging" choice:"Development" choice:"Local"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems."`

	DB *DB `group:"db" namespace:"db" description:"Local database settings."`

	CloudStore *CloudStore `group:"cloudstore" namespace:"cloudstore" description:"Cloud key-value store settings."`

	TrustService *TrustService `group:"trustservice" namespace:"trustservice" description:"Trust service settings."`

	Recovery *Recovery `group:"recovery" namespace:"recovery" description:"Recovery completion settings."`

	Log *build.LogConfig `group:"logging" namespace:"logging" description:"Logging settings."`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      DefaultDataDir,
		ConfigFile:   DefaultConfigFile,
		Network:      string(account.NetworkMainnet),
		Environment:  string(account.EnvironmentProduction),
		DebugLevel:   defaultLogLevel,
		DB:           DefaultDB(),
		CloudStore:   DefaultCloudStore(),
		TrustService: DefaultTrustService(),
		Recovery:     DefaultRecovery(),
		Log:          build.DefaultLogConfig(),
	}
}

// LoadConfig builds the configuration from, in increasing precedence, the
// defaults, the ini file and the given command line arguments. A missing
// config file is not an error.
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the arguments to pick up an alternative data directory
	// or config file.
	preCfg := DefaultConfig()
	if _, err := parse(preCfg, args); err != nil {
		return nil, err
	}

	configFile := CleanAndExpandPath(preCfg.ConfigFile)
	dataDir := CleanAndExpandPath(preCfg.DataDir)
	if dataDir != DefaultDataDir && configFile == DefaultConfigFile {
		configFile = filepath.Join(dataDir, DefaultConfigFilename)
	}

	cfg := DefaultConfig()
	parser := flags.NewParser(cfg, flags.IgnoreUnknown)
	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("unable to read %v: %w",
				configFile, err)
		}
	}

	// The command line takes precedence over the file.
	if _, err := parse(cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parse(cfg *Config, args []string) ([]string, error) {
	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)

	return parser.ParseArgs(args)
}

// Validate normalises all paths and checks every sub config.
//
// NOTE: This is part of the Validator interface.
func (c *Config) Validate() error {
	c.DataDir = CleanAndExpandPath(c.DataDir)
	c.ConfigFile = CleanAndExpandPath(c.ConfigFile)
	if c.DB.Path == "" {
		c.DB.Path = filepath.Join(c.DataDir, DefaultDBFilename)
	}
	c.DB.Path = CleanAndExpandPath(c.DB.Path)

	if _, err := c.AccountConfig(); err != nil {
		return err
	}

	return Validate(c.DB, c.CloudStore, c.TrustService, c.Recovery, c.Log)
}

// AccountConfig returns the network and environment of the account.
func (c *Config) AccountConfig() (account.Config, error) {
	network, err := account.ParseNetwork(c.Network)
	if err != nil {
		return account.Config{}, err
	}
	env, err := account.ParseEnvironment(c.Environment)
	if err != nil {
		return account.Config{}, err
	}

	return account.Config{Network: network, Environment: env}, nil
}

// Account returns the configured account id.
func (c *Config) Account() (account.ID, error) {
	if c.AccountID == "" {
		return "", fmt.Errorf("no account given, use --account")
	}

	return account.ID(c.AccountID), nil
}

// LogFile is the path of the rotating log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, defaultLogDirname, defaultLogFilename)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
