// Gnoracle is an oracle operator of the guild network. It answers the
// identity registrations and role checks the ledger delegates to it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/guildnet/gnoracle/allowlist"
	"github.com/guildnet/gnoracle/evm"
	"github.com/guildnet/gnoracle/identity"
	"github.com/guildnet/gnoracle/ledger"
	"github.com/guildnet/gnoracle/oracle"
	"github.com/guildnet/gnoracle/requirement"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

var cmds = cli.Commands{
	{
		Name:    "run",
		Usage:   "answer the oracle requests of the ledger",
		Aliases: []string{"r"},
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  "activate, a",
				Usage: "activate the operator before running",
			},
		},
		Action: run,
	},
	{
		Name:   "activate",
		Usage:  "activate the registered operator",
		Action: activate,
	},
	{
		Name:   "keygen",
		Usage:  "create an operator key",
		Action: keygen,
	},
	{
		Name:      "verification-msg",
		Usage:     "print the message to sign to link identities to an account",
		ArgsUsage: "account",
		Action:    verificationMsg,
	},
	{
		Name:      "proof",
		Usage:     "compute the allowlist commitment and the proof of a member",
		ArgsUsage: "allowlist.toml",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "member, m",
				Usage: "address or identity to prove",
			},
		},
		Action: proof,
	},
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "gnoracle"
	cliApp.Usage = "Guild network oracle operator."
	cliApp.Version = "0.1"
	cliApp.Commands = cmds
	cliApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
		cli.StringFlag{
			Name:   "config, c",
			Value:  "gnoracle.toml",
			EnvVar: "GNORACLE_CONFIG",
			Usage:  "path to config-file",
		},
	}
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	log.ErrFatal(cliApp.Run(os.Args))
}

// operator holds what the service needs, opened from the config.
type operator struct {
	service *oracle.Service
	closers []func()
}

func (o *operator) Close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
}

func openOperator(ctx context.Context, c *cli.Context) (*operator, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	signer, err := ledger.LoadSigner(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	eps, err := cfg.endpoints()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	o := &operator{}
	l, err := ledger.DialRPC(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	o.closers = append(o.closers, l.Close)
	chains, err := evm.Dial(ctx, eps)
	if err != nil {
		o.Close()
		return nil, err
	}
	o.closers = append(o.closers, chains.Close)
	if cfg.AnswerLog != "" {
		answers, err := oracle.OpenAnswerLog(cfg.AnswerLog)
		if err != nil {
			o.Close()
			return nil, err
		}
		o.closers = append(o.closers, func() {
			if err := answers.Close(); err != nil {
				log.Error("Closing answer log:", err)
			}
		})
		opts = append(opts, oracle.WithAnswerLog(answers))
	}

	eval := requirement.NewEvaluator(evm.WithRetry(chains, cfg.retry()))
	o.service = oracle.NewService(l, signer, eval, opts...)
	log.Lvl1("Operator", o.service.Account(), "connected to", cfg.Ledger)
	return o, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func run(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()
	o, err := openOperator(ctx, c)
	if err != nil {
		return err
	}
	defer o.Close()

	if c.Bool("activate") {
		if err := o.service.Activate(ctx); err != nil {
			return err
		}
	}
	err = o.service.Run(ctx)
	if xerrors.Is(err, oracle.ErrNotActive) {
		return xerrors.Errorf("%v, use 'gnoracle activate' or 'run --activate'", err)
	}
	return err
}

func activate(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()
	o, err := openOperator(ctx, c)
	if err != nil {
		return err
	}
	defer o.Close()
	return o.service.Activate(ctx)
}

func keygen(c *cli.Context) error {
	s := ledger.GenerateSigner()
	private, err := s.PrivateHex()
	if err != nil {
		return err
	}
	fmt.Printf("private_key = %q\n# account %v\n", private, s.Account())
	return nil
}

func verificationMsg(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give the account")
	}
	var acc ledger.AccountID
	if err := acc.UnmarshalText([]byte(c.Args().First())); err != nil {
		return xerrors.Errorf("account: %w", err)
	}
	fmt.Println(identity.VerificationMsg(acc.String()))
	return nil
}

// allowlistFile lists the leaves of an allowlist, each leaf being a list of
// EVM addresses or hex encoded identities:
//
//	leaves = [["0xE43878Ce78934fe8007748FF481f03B8Ee3b97DE"], ["0x...", "0x..."]]
type allowlistFile struct {
	Leaves [][]string `toml:"leaves"`
}

func readAllowlist(path string) ([]allowlist.Leaf, error) {
	var f allowlistFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, xerrors.Errorf("reading %s: %w", path, err)
	}
	leaves := make([]allowlist.Leaf, len(f.Leaves))
	for i, members := range f.Leaves {
		for _, m := range members {
			id, err := parseMember(m)
			if err != nil {
				return nil, xerrors.Errorf("leaf %d: %w", i, err)
			}
			leaves[i] = append(leaves[i], id)
		}
	}
	return leaves, nil
}

// parseMember accepts a plain EVM address or an encoded identity.
func parseMember(s string) (identity.Identity, error) {
	if common.IsHexAddress(s) {
		return identity.NewAddress20(common.HexToAddress(s)), nil
	}
	var id identity.Identity
	err := id.UnmarshalText([]byte(s))
	return id, err
}

func proof(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give the allowlist file")
	}
	leaves, err := readAllowlist(c.Args().First())
	if err != nil {
		return err
	}
	com, err := allowlist.NewCommitment(leaves)
	if err != nil {
		return err
	}
	fmt.Printf("root = %q\nlength = %d\n", com.Root.Hex(), com.Length)
	if !c.IsSet("member") {
		return nil
	}
	id, err := parseMember(c.String("member"))
	if err != nil {
		return xerrors.Errorf("member: %w", err)
	}
	leaf, idx, ok := allowlist.Find(leaves, id)
	if !ok {
		return xerrors.Errorf("%v is not in the allowlist", id)
	}
	p, err := allowlist.NewProof(leaves, leaf, idx)
	if err != nil {
		return err
	}
	if !p.Verify(com, id, leaves[leaf]) {
		return xerrors.New("proof does not verify")
	}
	text, err := p.MarshalText()
	if err != nil {
		return err
	}
	fmt.Printf("proof = %q\n", text)
	return nil
}
