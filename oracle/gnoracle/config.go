package main

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/guildnet/gnoracle/evm"
	"github.com/guildnet/gnoracle/oracle"
	"golang.org/x/xerrors"
)

// duration reads "30s" style values from the config file.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type retryConfig struct {
	Attempts int      `toml:"attempts"`
	Timeout  duration `toml:"timeout"`
	Backoff  duration `toml:"backoff"`
}

// config is the operator configuration file:
//
//	ledger = "ws://127.0.0.1:9944"
//	private_key = "0x..."
//	answer_log = "answers.db"
//	batch_policy = "all-or-nothing"
//	request_timeout = "30s"
//
//	[endpoints]
//	ethereum = "https://..."
//	bsc = "https://..."
//
//	[retry]
//	attempts = 3
//	timeout = "10s"
//	backoff = "200ms"
type config struct {
	Ledger         string            `toml:"ledger"`
	PrivateKey     string            `toml:"private_key"`
	AnswerLog      string            `toml:"answer_log"`
	BatchPolicy    string            `toml:"batch_policy"`
	RequestTimeout duration          `toml:"request_timeout"`
	Endpoints      map[string]string `toml:"endpoints"`
	Retry          *retryConfig      `toml:"retry"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, xerrors.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if cfg.Ledger == "" {
		return nil, xerrors.Errorf("%s: missing ledger url", path)
	}
	if cfg.PrivateKey == "" {
		return nil, xerrors.Errorf("%s: missing private_key", path)
	}
	return cfg, nil
}

func (c *config) endpoints() (map[evm.Chain]string, error) {
	eps := make(map[evm.Chain]string, len(c.Endpoints))
	for name, url := range c.Endpoints {
		chain, err := evm.ParseChain(name)
		if err != nil {
			return nil, xerrors.Errorf("endpoints: %w", err)
		}
		eps[chain] = url
	}
	return eps, nil
}

func (c *config) retry() evm.RetryConfig {
	if c.Retry == nil {
		return evm.DefaultRetry
	}
	r := evm.RetryConfig{
		Attempts: c.Retry.Attempts,
		Timeout:  c.Retry.Timeout.Duration,
		Backoff:  c.Retry.Backoff.Duration,
	}
	if r.Attempts < 1 {
		r.Attempts = 1
	}
	return r
}

func (c *config) options() ([]oracle.Option, error) {
	var opts []oracle.Option
	switch c.BatchPolicy {
	case "", oracle.AllOrNothing.String():
	case oracle.PartialSuccess.String():
		opts = append(opts, oracle.WithBatchPolicy(oracle.PartialSuccess))
	default:
		return nil, xerrors.Errorf("unknown batch_policy %q", c.BatchPolicy)
	}
	if c.RequestTimeout.Duration > 0 {
		opts = append(opts, oracle.WithRequestTimeout(c.RequestTimeout.Duration))
	}
	return opts, nil
}
