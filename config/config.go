// Package config loads the client configuration from a YAML file or CLI flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	PlatformRPC      = "rpc"
	PlatformKeyed    = "keyed"
	PlatformSimulate = "simulate"

	// PrivateKeyEnv holds the signing key for the keyed platform.
	PrivateKeyEnv = "BANKDAPP_PRIVATE_KEY"
)

const (
	defaultAccountPollInterval = 2 * time.Second
	defaultReceiptPollInterval = time.Second
	defaultReceiptTimeout      = 2 * time.Minute
	defaultTLSCacheDir         = "cert-cache"
	defaultSimulateBalance     = "100"
)

// simulated deployment used when no contract address is configured
var (
	defaultSimulateContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	defaultSimulateAccounts = []common.Address{
		common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
	}
)

type Config struct {
	Platform            string
	RPCURL              string
	ContractAddress     common.Address
	ChainID             int64
	PrivateKey          string
	AccountPollInterval time.Duration
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
	GasHeadroomPercent  uint64
	HTTPAddr            string
	TLSDomains          []string
	TLSCacheDir         string
	Console             bool
	SimulateBalance     decimal.Decimal
	SimulateAccounts    []common.Address
}

type ConfigTmp struct {
	Platform            string        `yaml:"platform"`
	RPCURL              string        `yaml:"rpc_url"`
	ContractAddress     string        `yaml:"contract_address"`
	ChainID             int64         `yaml:"chain_id,omitempty"`
	AccountPollInterval time.Duration `yaml:"account_poll_interval,omitempty"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval,omitempty"`
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout,omitempty"`
	GasHeadroomPercent  uint64        `yaml:"gas_headroom_percent,omitempty"`
	HTTPAddr            string        `yaml:"http_addr,omitempty"`
	TLSDomains          []string      `yaml:"tls_domains,omitempty"`
	TLSCacheDir         string        `yaml:"tls_cache_dir,omitempty"`
	Console             bool          `yaml:"console,omitempty"`
	SimulateBalance     string        `yaml:"simulate_balance,omitempty"`
	SimulateAccounts    []string      `yaml:"simulate_accounts,omitempty"`
}

// Get reads the configuration from --config or from CLI flags.
func Get() (Config, error) {
	return Parse(os.Args[1:], os.Getenv)
}

// Parse reads the configuration from args, getenv supplies secrets.
func Parse(args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet("bankdapp", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to yaml config")
	platform := fs.String("platform", PlatformRPC, "wallet provider: rpc, keyed or simulate")
	rpcURL := fs.String("rpc", "", "wallet or node JSON-RPC endpoint")
	contract := fs.String("contract", "", "bank contract address")
	chainID := fs.Int64("chainid", 0, "chain id for local signing, 0 reads it from the node")
	accountPoll := fs.Duration("accountpollinterval", defaultAccountPollInterval, "how often wallet accounts are polled")
	receiptPoll := fs.Duration("receiptpollinterval", defaultReceiptPollInterval, "how often a transaction receipt is polled")
	receiptTimeout := fs.Duration("receipttimeout", defaultReceiptTimeout, "how long to wait for a receipt")
	headroom := fs.Uint64("gasheadroom", 0, "percent added to every gas estimate")
	httpAddr := fs.String("http", "", "HTTP listen address, empty disables the HTTP surface")
	tlsDomains := fs.String("tlsdomains", "", "comma separated domains for automatic TLS")
	tlsCacheDir := fs.String("tlscachedir", defaultTLSCacheDir, "certificate cache directory")
	console := fs.Bool("console", false, "run the interactive console")
	simBalance := fs.String("simulatebalance", defaultSimulateBalance, "initial wallet balance in ether for simulate")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var (
		c   Config
		err error
	)
	if *configPath != "" {
		c, err = getYaml(*configPath)
		if err != nil {
			return Config{}, err
		}
	} else {
		tmp := ConfigTmp{
			Platform:            *platform,
			RPCURL:              *rpcURL,
			ContractAddress:     *contract,
			ChainID:             *chainID,
			AccountPollInterval: *accountPoll,
			ReceiptPollInterval: *receiptPoll,
			ReceiptTimeout:      *receiptTimeout,
			GasHeadroomPercent:  *headroom,
			HTTPAddr:            *httpAddr,
			TLSDomains:          splitList(*tlsDomains),
			TLSCacheDir:         *tlsCacheDir,
			Console:             *console,
			SimulateBalance:     *simBalance,
		}
		c, err = fromTmp(tmp)
		if err != nil {
			return Config{}, err
		}
	}

	if getenv != nil {
		c.PrivateKey = strings.TrimSpace(getenv(PrivateKeyEnv))
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
	}
	return fromTmp(tmp)
}

func fromTmp(c ConfigTmp) (Config, error) {
	conf := Config{
		Platform:            strings.ToLower(strings.TrimSpace(c.Platform)),
		RPCURL:              strings.TrimSpace(c.RPCURL),
		ChainID:             c.ChainID,
		AccountPollInterval: c.AccountPollInterval,
		ReceiptPollInterval: c.ReceiptPollInterval,
		ReceiptTimeout:      c.ReceiptTimeout,
		GasHeadroomPercent:  c.GasHeadroomPercent,
		HTTPAddr:            c.HTTPAddr,
		TLSDomains:          c.TLSDomains,
		TLSCacheDir:         c.TLSCacheDir,
		Console:             c.Console,
	}
	if conf.Platform == "" {
		conf.Platform = PlatformRPC
	}

	if addr := strings.TrimSpace(c.ContractAddress); addr != "" {
		if !common.IsHexAddress(addr) {
			return Config{}, fmt.Errorf("incorrect 'contract_address' param in config: %q is not an address", addr)
		}
		conf.ContractAddress = common.HexToAddress(addr)
	}

	balance := c.SimulateBalance
	if balance == "" {
		balance = defaultSimulateBalance
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'simulate_balance' param in config (must be a decimal), error: %w", err)
	}
	conf.SimulateBalance = b

	for _, a := range c.SimulateAccounts {
		if !common.IsHexAddress(a) {
			return Config{}, fmt.Errorf("incorrect 'simulate_accounts' entry %q", a)
		}
		conf.SimulateAccounts = append(conf.SimulateAccounts, common.HexToAddress(a))
	}

	conf.applyDefaults()
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.AccountPollInterval <= 0 {
		c.AccountPollInterval = defaultAccountPollInterval
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = defaultReceiptPollInterval
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = defaultReceiptTimeout
	}
	if c.TLSCacheDir == "" {
		c.TLSCacheDir = defaultTLSCacheDir
	}
	if c.Platform == PlatformSimulate {
		if c.ContractAddress == (common.Address{}) {
			c.ContractAddress = defaultSimulateContract
		}
		if len(c.SimulateAccounts) == 0 {
			c.SimulateAccounts = append([]common.Address(nil), defaultSimulateAccounts...)
		}
	}
}

// Validate checks that the selected platform has everything it needs.
func (c Config) Validate() error {
	switch c.Platform {
	case PlatformRPC:
		if c.RPCURL == "" {
			return fmt.Errorf("rpc platform requires --rpc or 'rpc_url'")
		}
	case PlatformKeyed:
		if c.RPCURL == "" {
			return fmt.Errorf("keyed platform requires --rpc or 'rpc_url'")
		}
		if c.PrivateKey == "" {
			return fmt.Errorf("keyed platform requires %s environment variable", PrivateKeyEnv)
		}
	case PlatformSimulate:
		if c.SimulateBalance.IsNegative() {
			return fmt.Errorf("invalid 'simulate_balance': %s", c.SimulateBalance)
		}
	default:
		return fmt.Errorf("unsupported platform %q", c.Platform)
	}

	if c.ContractAddress == (common.Address{}) {
		return fmt.Errorf("contract address is required, use --contract or 'contract_address'")
	}
	if c.GasHeadroomPercent > 100 {
		return fmt.Errorf("invalid gas headroom %d%%, must be 0-100", c.GasHeadroomPercent)
	}
	if len(c.TLSDomains) > 0 && c.HTTPAddr == "" {
		return fmt.Errorf("tls domains require an HTTP address")
	}
	if !c.Console && c.HTTPAddr == "" {
		return fmt.Errorf("nothing to run, enable --console or set --http")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
