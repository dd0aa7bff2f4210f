package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/lightningnetwork/recoverykit/pakecode"
	"github.com/urfave/cli"
)

var pakeFlag = cli.StringFlag{
	Name:  "pake",
	Usage: "Hex encoded PAKE secret. A random one is used if unset.",
}

var inviteCommand = cli.Command{
	Name:     "invite",
	Category: "Codes",
	Usage:    "Build or parse social recovery invite codes.",
	Subcommands: []cli.Command{
		{
			Name:      "build",
			Usage:     "Pack a server part and a PAKE secret.",
			ArgsUsage: "server_hex server_bits",
			Flags:     []cli.Flag{pakeFlag},
			Action:    buildInvite,
		},
		{
			Name:      "parse",
			Usage:     "Unpack an invite code.",
			ArgsUsage: "code",
			Action:    parseInvite,
		},
	},
}

var recoveryCodeCommand = cli.Command{
	Name:     "recoverycode",
	Category: "Codes",
	Usage:    "Build or parse social recovery codes.",
	Subcommands: []cli.Command{
		{
			Name:      "build",
			Usage:     "Pack a server part and a PAKE secret.",
			ArgsUsage: "server_part server_bits",
			Flags:     []cli.Flag{pakeFlag},
			Action:    buildRecoveryCode,
		},
		{
			Name:      "parse",
			Usage:     "Unpack a recovery code.",
			ArgsUsage: "code",
			Action:    parseRecoveryCode,
		},
	},
}

type codeResult struct {
	Code       string `json:"code"`
	ServerPart string `json:"server_part"`
	ServerBits int    `json:"server_bits"`
	Pake       string `json:"pake"`
}

// pakeSecret decodes the --pake flag or draws a fresh secret of the given
// bit length.
func pakeSecret(ctx *cli.Context, bits int) ([]byte, error) {
	if ctx.IsSet(pakeFlag.Name) {
		return hex.DecodeString(ctx.String(pakeFlag.Name))
	}

	pake := make([]byte, (bits+7)/8)
	if _, err := rand.Read(pake); err != nil {
		return nil, err
	}

	return pake, nil
}

func buildInvite(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "build")
	}

	serverPart := ctx.Args().Get(0)
	var serverBits int
	if _, err := fmt.Sscan(ctx.Args().Get(1), &serverBits); err != nil {
		return fmt.Errorf("invalid server_bits: %w", err)
	}

	pake, err := pakeSecret(ctx, pakecode.InvitePakeBits)
	if err != nil {
		return fmt.Errorf("invalid pake: %w", err)
	}

	res, err := inviteResult(serverPart, serverBits, pake)
	if err != nil {
		return err
	}

	return printJSON(res)
}

// inviteResult builds an invite code and reports it with the parsed back
// content.
func inviteResult(serverPart string, serverBits int,
	pake []byte) (*codeResult, error) {

	code, err := pakecode.BuildInviteCode(serverPart, serverBits, pake)
	if err != nil {
		return nil, err
	}

	return parsedInvite(code)
}

func parseInvite(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "parse")
	}

	res, err := parsedInvite(ctx.Args().First())
	if err != nil {
		return err
	}

	return printJSON(res)
}

func parsedInvite(code string) (*codeResult, error) {
	invite, err := pakecode.ParseInviteCode(code)
	if err != nil {
		return nil, err
	}

	return &codeResult{
		Code:       code,
		ServerPart: invite.ServerPart,
		ServerBits: invite.ServerBits,
		Pake:       hex.EncodeToString(invite.Pake),
	}, nil
}

func buildRecoveryCode(ctx *cli.Context) error {
	var (
		serverPart uint64
		serverBits int
	)
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "build")
	}
	if _, err := fmt.Sscan(ctx.Args().Get(0), &serverPart); err != nil {
		return fmt.Errorf("invalid server_part: %w", err)
	}
	if _, err := fmt.Sscan(ctx.Args().Get(1), &serverBits); err != nil {
		return fmt.Errorf("invalid server_bits: %w", err)
	}

	pake, err := pakeSecret(ctx, pakecode.RecoveryPakeBits)
	if err != nil {
		return fmt.Errorf("invalid pake: %w", err)
	}

	res, err := recoveryCodeResult(serverPart, serverBits, pake)
	if err != nil {
		return err
	}

	return printJSON(res)
}

func recoveryCodeResult(serverPart uint64, serverBits int,
	pake []byte) (*codeResult, error) {

	code, err := pakecode.BuildRecoveryCode(serverPart, serverBits, pake)
	if err != nil {
		return nil, err
	}

	return parsedRecoveryCode(code)
}

func parseRecoveryCode(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "parse")
	}

	res, err := parsedRecoveryCode(ctx.Args().First())
	if err != nil {
		return err
	}

	return printJSON(res)
}

func parsedRecoveryCode(code string) (*codeResult, error) {
	rc, err := pakecode.ParseRecoveryCode(code)
	if err != nil {
		return nil, err
	}

	return &codeResult{
		Code:       code,
		ServerPart: fmt.Sprintf("%d", rc.ServerPart),
		ServerBits: rc.ServerBits,
		Pake:       hex.EncodeToString(rc.Pake),
	}, nil
}
