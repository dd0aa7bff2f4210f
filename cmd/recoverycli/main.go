package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/recoverykit/build"
	"github.com/lightningnetwork/recoverykit/recoverycfg"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[recoverycli] %v\n", err)
	os.Exit(1)
}

// printJSON writes v indented to stdout.
func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("unable to encode output: %w", err)
	}

	fmt.Printf("%s\n", b)

	return nil
}

// globalArgs turns the global flags that were set into go-flags arguments
// so they take precedence over the config file.
func globalArgs(ctx *cli.Context) []string {
	var args []string
	for _, name := range []string{
		"datadir", "configfile", "account", "network", "debuglevel",
	} {
		if ctx.GlobalIsSet(name) {
			args = append(args, fmt.Sprintf("--%s=%s", name,
				ctx.GlobalString(name)))
		}
	}

	return args
}

// env is everything a command needs from the configuration.
type env struct {
	cfg     *recoverycfg.Config
	db      kvdb.Backend
	cleanup []func() error
}

// close releases the env's resources in reverse order.
func (e *env) close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		if err := e.cleanup[i](); err != nil {
			cliLog.Errorf("Cleanup failed: %v", err)
		}
	}
}

// loadEnv loads the configuration and sets up logging. The database is only
// opened if openDB is set.
func loadEnv(ctx *cli.Context, openDB bool) (*env, error) {
	cfg, err := recoverycfg.LoadConfig(globalArgs(ctx))
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}

	var logFile io.Writer
	if !cfg.Log.File.Disable {
		f, err := build.OpenLogFile(cfg.Log.File, cfg.LogFile())
		if err != nil {
			return nil, err
		}
		e.cleanup = append(e.cleanup, f.Close)
		logFile = f
	}

	root := build.NewSubLoggerManager(
		build.NewDefaultLogHandlers(cfg.Log, logFile)...,
	)
	SetupLoggers(root)
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, root)
	if err != nil {
		e.close()
		return nil, err
	}

	if openDB {
		e.db, err = cfg.DB.Open()
		if err != nil {
			e.close()
			return nil, err
		}
		e.cleanup = append(e.cleanup, e.db.Close)
	}

	return e, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "recoverycli"
	app.Usage = "inspect and repair account recovery state"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "datadir",
			Value:     recoverycfg.DefaultDataDir,
			Usage:     "The directory holding the database and logs.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "configfile",
			Value:     recoverycfg.DefaultConfigFile,
			Usage:     "The path to the ini configuration file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:  "account",
			Usage: "The account to operate on.",
		},
		cli.StringFlag{
			Name:  "network, n",
			Usage: "The bitcoin network of the account.",
			Value: "bitcoin",
		},
		cli.StringFlag{
			Name: "debuglevel, d",
			Usage: "Logging level for all subsystems, or " +
				"<subsystem>=<level>,... per subsystem.",
			Value: "info",
		},
	}
	app.Commands = []cli.Command{
		inviteCommand,
		recoveryCodeCommand,
		backupCommand,
		progressCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
