package main

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/recoverykit/build"
	"github.com/lightningnetwork/recoverykit/cloudbackup"
	"github.com/lightningnetwork/recoverykit/keyrotation"
	"github.com/lightningnetwork/recoverykit/recovery"
	"github.com/lightningnetwork/recoverykit/relationships"
	"github.com/lightningnetwork/recoverykit/trustsvc"
)

// subsystem is the logging subsystem of the command line tool itself.
const subsystem = "RCLI"

var cliLog = build.NewSubLogger(subsystem, nil)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	// Add the tool's own logger first so its level can be set along
	// with the packages'.
	cliLog = build.NewSubLogger(subsystem, root.GenSubLogger)
	root.RegisterSubLogger(subsystem, cliLog)

	AddSubLogger(root, cloudbackup.Subsystem, cloudbackup.UseLogger)
	AddSubLogger(root, keyrotation.Subsystem, keyrotation.UseLogger)
	AddSubLogger(root, recovery.Subsystem, recovery.UseLogger)
	AddSubLogger(root, relationships.Subsystem, relationships.UseLogger)
	AddSubLogger(root, trustsvc.Subsystem, trustsvc.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
