package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blues/escrow/internal/config"
	"github.com/blues/escrow/internal/logger"
	"github.com/ethereum/go-ethereum/ethclient"
)

var supportedTypes = []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism"}

// Manager 单链管理器
type Manager struct {
	mu        sync.RWMutex
	contracts map[string]*Contract // 合约映射: "contractName" -> Contract
	client    *ethclient.Client    // 链客户端
	config    config.ChainConfig   // 存储链配置
}

// NewManager 创建单链管理器，fallbackABI 用于未配置 abi_path 的合约
func NewManager(ctx context.Context, cfg config.ChainConfig, fallbackABI string) (*Manager, error) {
	manager := &Manager{
		contracts: make(map[string]*Contract),
		config:    cfg,
	}

	// 初始化客户端
	if err := manager.initClient(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}

	// 初始化所有启用的合约
	if err := manager.initContracts(cfg, fallbackABI); err != nil {
		manager.client.Close()
		return nil, fmt.Errorf("failed to initialize contracts: %w", err)
	}

	return manager, nil
}

// initClient 初始化客户端
func (m *Manager) initClient(ctx context.Context, cfg config.ChainConfig) error {
	logger.Info("Initializing chain client (type: %s, id: %d)", cfg.ChainType, cfg.ChainId)

	if cfg.RpcUrl == "" {
		return fmt.Errorf("no RPC URL configured")
	}
	if !isSupported(cfg.ChainType) {
		return fmt.Errorf("unsupported chain type %s, supported types: %v", cfg.ChainType, supportedTypes)
	}

	logger.Info("Creating %s client connection (RPC: %s)", cfg.ChainType, cfg.RpcUrl)
	client, err := ethclient.DialContext(ctx, cfg.RpcUrl)
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", cfg.ChainType, err)
	}

	// 测试连接并核对链ID
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("client connection test failed (%s): %w", cfg.ChainType, err)
	}
	if cfg.ChainId != 0 && chainID.Int64() != cfg.ChainId {
		client.Close()
		return fmt.Errorf("chain id mismatch: configured %d, node reports %s", cfg.ChainId, chainID)
	}

	m.client = client
	logger.Info("Successfully created %s client", cfg.ChainType)
	return nil
}

// initContracts 初始化所有合约
func (m *Manager) initContracts(cfg config.ChainConfig, fallbackABI string) error {
	for contractName, contractCfg := range cfg.Contracts {
		if !contractCfg.Enabled {
			logger.Info("Skipping disabled contract: %s", contractName)
			continue
		}

		logger.Info("Initializing contract: %s (address: %s)", contractName, contractCfg.Address)
		contract, err := NewContract(m.client, contractName, contractCfg, cfg.ChainId, fallbackABI)
		if err != nil {
			return fmt.Errorf("failed to create contract %s: %w", contractName, err)
		}
		m.contracts[contractName] = contract
	}

	logger.Info("Successfully initialized %d contracts", len(m.contracts))
	return nil
}

func isSupported(chainType string) bool {
	for _, t := range supportedTypes {
		if t == chainType {
			return true
		}
	}
	return false
}

// GetClient 获取客户端
func (m *Manager) GetClient() *ethclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// GetContract 获取指定合约
func (m *Manager) GetContract(contractName string) (*Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contract, exists := m.contracts[contractName]
	if !exists {
		return nil, fmt.Errorf("contract %s not found", contractName)
	}
	return contract, nil
}

// GetConfig 获取链配置
func (m *Manager) GetConfig() config.ChainConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetHealthStatus 获取健康状态
func (m *Manager) GetHealthStatus(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := map[string]interface{}{
		"chain_type":    m.config.ChainType,
		"chain_id":      m.config.ChainId,
		"client_status": "connected",
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if head, err := m.client.BlockNumber(ctx); err != nil {
		health["client_status"] = "disconnected"
	} else {
		health["head_block"] = head
	}

	contracts := make(map[string]interface{}, len(m.contracts))
	for contractName, contract := range m.contracts {
		contracts[contractName] = map[string]interface{}{
			"address":   contract.GetAddress().Hex(),
			"chain_id":  contract.GetChainId(),
			"block_num": contract.GetBlockNum(),
		}
	}
	health["contracts"] = contracts

	return health
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Close()
	}

	logger.Info("Chain manager closed")
	return nil
}
