package app

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STARS_ prefix), flags, or YAML config files.
type Config struct {
	OpsAddr        string `default:"0.0.0.0:8091" usage:"Ops HTTP listen address (health probes)" flag:"ops-addr"`
	SelfID         int64  `usage:"Bot's own marketplace account ID (its messages are ignored)" flag:"self-id"`
	OperatorChatID int64  `usage:"Chat that receives operator notifications; 0 disables them" flag:"operator-chat-id"`

	Connector ConnectorConfig
	Fragment  FragmentConfig
	Wallet    WalletConfig
	PriceFeed PriceFeedConfig
	Queue     QueueConfig
}

// ConnectorConfig points at the FunPay connector sidecar.
type ConnectorConfig struct {
	BaseURL  string        `usage:"Connector HTTP base URL (STARS_CONNECTOR_BASE_URL)" flag:"connector-base-url"`
	Token    string        `usage:"Connector auth token" flag:"connector-token"`
	Timeout  time.Duration `default:"10s" usage:"Per-request connector timeout"`
	PollWait time.Duration `default:"25s" usage:"Event long-poll window" flag:"connector-poll-wait"`
}

// FragmentConfig holds the Fragment API session.
type FragmentConfig struct {
	Hash           string        `usage:"Fragment API session hash (STARS_FRAGMENT_HASH)" flag:"fragment-hash"`
	CookieSSID     string        `usage:"stel_ssid session cookie" flag:"fragment-ssid"`
	CookieToken    string        `usage:"stel_token session cookie" flag:"fragment-token"`
	CookieTonToken string        `usage:"stel_ton_token session cookie" flag:"fragment-ton-token"`
	CookieDT       string        `default:"-180" usage:"stel_dt timezone cookie" flag:"fragment-dt"`
	Timeout        time.Duration `default:"10s" usage:"Per-request Fragment timeout"`
	ShowSender     bool          `default:"false" usage:"Reveal the paying account to the recipient" flag:"fragment-show-sender"`
	RateMax        int           `default:"30" usage:"Max Fragment requests per rate window"`
	RateWindow     time.Duration `default:"1m" usage:"Fragment rate limit window"`
}

// WalletConfig holds the paying TON wallet.
type WalletConfig struct {
	Mnemonic         string `usage:"24-word wallet mnemonic (STARS_WALLET_MNEMONIC)" flag:"wallet-mnemonic"`
	NetworkConfigURL string `default:"https://ton.org/global.config.json" usage:"Lite-server network config URL" flag:"wallet-network-config"`
}

// PriceFeedConfig controls the operator accounting rate lookup.
type PriceFeedConfig struct {
	CoinID   string        `default:"the-open-network" usage:"CoinGecko coin ID" flag:"price-coin-id"`
	Currency string        `default:"rub" usage:"Fiat quote currency" flag:"price-currency"`
	Timeout  time.Duration `default:"10s" usage:"Per-request price feed timeout"`
}

// QueueConfig controls the fulfillment worker's pacing.
type QueueConfig struct {
	Cooldown    time.Duration `default:"20s" usage:"Pause before each purchase" flag:"queue-cooldown"`
	PollTimeout time.Duration `default:"1s" usage:"Empty-queue poll timeout" flag:"queue-poll-timeout"`
}

// LoadConfig loads configuration from environment variables, flags, and YAML
// config files.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STARS",
		Files:     []string{"config.yaml", "/etc/autostars/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	if cfg.Connector.BaseURL == "" {
		return nil, errors.New("connector base URL is required: set STARS_CONNECTOR_BASE_URL")
	}
	if cfg.Fragment.Hash == "" {
		return nil, errors.New("fragment hash is required: set STARS_FRAGMENT_HASH")
	}
	if cfg.Wallet.Mnemonic == "" {
		return nil, errors.New("wallet mnemonic is required: set STARS_WALLET_MNEMONIC")
	}

	return &cfg, nil
}
