package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"protectedpay/internal/wallet"
)

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID           int64                 `json:"chainId"`
	ChainName         string                `json:"chainName"`
	NativeCurrency    wallet.NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string              `json:"rpcUrls"`
	BlockExplorerURLs []string              `json:"blockExplorerUrls"`
	Contracts         struct {
		ProtectedPay string `json:"ProtectedPay"`
	} `json:"contracts"`
}

// DefaultDeployment is the public Sepolia deployment, used when no
// deployments file exists.
func DefaultDeployment() DeploymentConfig {
	d := DeploymentConfig{
		ChainID:           11155111,
		ChainName:         "Sepolia Testnet",
		NativeCurrency:    wallet.NativeCurrency{Name: "ETH", Symbol: "ETH", Decimals: 18},
		RPCURLs:           []string{"https://sepolia.infura.io/"},
		BlockExplorerURLs: []string{"https://sepolia.etherscan.io/"},
	}
	d.Contracts.ProtectedPay = "0xF887B4D3b17C12C86cc917cF72fb8881f866a847"
	return d
}

func (d DeploymentConfig) ChainIDBig() *big.Int { return big.NewInt(d.ChainID) }

// WalletChain describes the deployment chain the way a wallet registers it.
func (d DeploymentConfig) WalletChain() wallet.ChainParams {
	return wallet.ChainParams{
		ChainID:        d.ChainIDBig(),
		Name:           d.ChainName,
		NativeCurrency: d.NativeCurrency,
		RPCURLs:        d.RPCURLs,
		ExplorerURLs:   d.BlockExplorerURLs,
	}
}

// AppConfig ties together deployment info and derived values.
type AppConfig struct {
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	LogLevel   string
}

type ServiceConfig struct {
	HTTPPort             int
	HMACSecret           string
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	PostgresDSN          string
	RedisAddr            string
	RedisPassword        string
	CORSAllowedOrigins   []string
}

type ChainConfig struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ReceiptPoll     time.Duration
	ConfirmTimeout  time.Duration
	ReadConcurrency int
}

const defaultDeploymentsPath = "deployments.json"

// Load aggregates configuration from .env, disk and environment, in that
// order of increasing precedence.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)
	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:             envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:           envOr("API_HMAC_SECRET", ""),
		HMACClockSkew:        time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		IdempotencyWindow:    time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 86400)) * time.Second,
		IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "protectedpay-idem.json")),
		PostgresDSN:          envOr("POSTGRES_DSN", ""),
		RedisAddr:            envOr("REDIS_ADDR", ""),
		RedisPassword:        envOr("REDIS_PASSWORD", ""),
		CORSAllowedOrigins:   envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	defaultRPC := ""
	if len(deployCfg.RPCURLs) > 0 {
		defaultRPC = deployCfg.RPCURLs[0]
	}
	chainCfg := ChainConfig{
		RPCURL:          envOr("CHAIN_RPC_URL", defaultRPC),
		PrivateKey:      envOr("CHAIN_PRIVATE_KEY", ""),
		ContractAddress: envOr("CONTRACT_ADDRESS", deployCfg.Contracts.ProtectedPay),
		ReceiptPoll:     time.Duration(envOrInt("RECEIPT_POLL_MS", 2000)) * time.Millisecond,
		ConfirmTimeout:  time.Duration(envOrInt("CONFIRM_TIMEOUT_SECONDS", 180)) * time.Second,
		ReadConcurrency: envOrInt("READ_CONCURRENCY", 8),
	}

	cfg := &AppConfig{
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
		LogLevel:   envOr("LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Chain.RPCURL == "" {
		return errors.New("CHAIN_RPC_URL is required")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("invalid contract address %q", c.Chain.ContractAddress)
	}
	if c.Deployment.ChainID <= 0 {
		return fmt.Errorf("invalid chain id %d", c.Deployment.ChainID)
	}
	if c.Chain.ReadConcurrency <= 0 {
		return fmt.Errorf("READ_CONCURRENCY must be positive, got %d", c.Chain.ReadConcurrency)
	}
	return nil
}

// loadDeployments reads path, falling back to DefaultDeployment when the
// file does not exist. Fields missing from the file keep their defaults.
func loadDeployments(path string) (*DeploymentConfig, error) {
	cfg := DefaultDeployment()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	val := envOr(key, "")
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
