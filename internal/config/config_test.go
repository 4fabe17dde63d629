package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToSepolia(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DEPLOYMENTS_PATH", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(11155111), cfg.Deployment.ChainID)
	require.Equal(t, "0xaa36a7", "0x"+cfg.Deployment.ChainIDBig().Text(16))
	require.Equal(t, "https://sepolia.infura.io/", cfg.Chain.RPCURL)
	require.Equal(t, "0xF887B4D3b17C12C86cc917cF72fb8881f866a847", cfg.Chain.ContractAddress)
	require.Equal(t, 2*time.Second, cfg.Chain.ReceiptPoll)
	require.Equal(t, 3*time.Minute, cfg.Chain.ConfirmTimeout)
	require.Equal(t, 8, cfg.Chain.ReadConcurrency)
	require.Equal(t, []string{"*"}, cfg.Service.CORSAllowedOrigins)
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "deployments.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "chainId": 31337,
  "chainName": "Anvil",
  "rpcUrls": ["http://127.0.0.1:8545"],
  "contracts": {"ProtectedPay": "0x5FbDB2315678afecb367f032d93F642f64180aa3"}
}`), 0o600))
	t.Setenv("DEPLOYMENTS_PATH", path)
	t.Setenv("API_HTTP_PORT", "8088")
	t.Setenv("RECEIPT_POLL_MS", "250")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example, http://localhost:3000")
	t.Setenv("CHAIN_RPC_URL", "http://anvil:8545")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(31337), cfg.Deployment.ChainID)
	require.Equal(t, "Anvil", cfg.Deployment.ChainName)
	require.Equal(t, "ETH", cfg.Deployment.NativeCurrency.Symbol)
	require.Equal(t, "http://anvil:8545", cfg.Chain.RPCURL)
	require.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", cfg.Chain.ContractAddress)
	require.Equal(t, 8088, cfg.Service.HTTPPort)
	require.Equal(t, 250*time.Millisecond, cfg.Chain.ReceiptPoll)
	require.Equal(t, []string{"https://app.example", "http://localhost:3000"}, cfg.Service.CORSAllowedOrigins)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("API_HMAC_SECRET=from-dotenv\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("DEPLOYMENTS_PATH", filepath.Join(dir, "missing.json"))
	// godotenv never overrides set variables; register cleanup then clear.
	for _, key := range []string{"API_HMAC_SECRET", "LOG_LEVEL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.Service.HMACSecret)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsBadContractAddress(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DEPLOYMENTS_PATH", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("CONTRACT_ADDRESS", "0x1234")

	_, err := Load()
	require.Error(t, err)
}

func TestWalletChain(t *testing.T) {
	chain := DefaultDeployment().WalletChain()
	require.Equal(t, "0xaa36a7", chain.HexID())
	require.Equal(t, "Sepolia Testnet", chain.Name)
	require.Equal(t, 18, chain.NativeCurrency.Decimals)
	require.Equal(t, []string{"https://sepolia.etherscan.io/"}, chain.ExplorerURLs)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
