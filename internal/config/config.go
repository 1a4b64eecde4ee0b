package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/blues/escrow/internal/logger"
	"github.com/spf13/viper"
)

// EscrowContract 托管合约在 chain.contracts 中的名称
const EscrowContract = "escrow"

// ChainTypeMemory 使用进程内账本，开发与测试用
const ChainTypeMemory = "memory"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Amount     AmountConfig     `mapstructure:"amount"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Task       TaskConfig       `mapstructure:"task"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"`
	CorsOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig 命令流水库配置，未启用时不记录流水
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"` // postgres, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

// ChainConfig 单链配置
type ChainConfig struct {
	ChainType     string                    `mapstructure:"chain_type"`    // 链类型 (ethereum, polygon, memory, etc.)
	ChainId       int64                     `mapstructure:"chain_id"`      // 链ID
	RpcUrl        string                    `mapstructure:"rpc_url"`       // RPC节点URL
	Confirmations uint64                    `mapstructure:"confirmations"` // 确认块数
	CallTimeout   time.Duration             `mapstructure:"call_timeout"`  // 单次读调用超时
	TxTimeout     time.Duration             `mapstructure:"tx_timeout"`    // 等待交易上链超时
	Contracts     map[string]ContractConfig `mapstructure:"contracts"`     // 该链上的合约配置
}

// ContractConfig 单个合约配置
type ContractConfig struct {
	Address  string `mapstructure:"address"`   // 合约地址
	ABIPath  string `mapstructure:"abi_path"`  // ABI文件路径，为空时使用内置 ABI
	Enabled  bool   `mapstructure:"enabled"`   // 是否启用此合约
	BlockNum int64  `mapstructure:"block_num"` // 合约部署区块号
}

// WalletConfig 签名身份
type WalletConfig struct {
	PrivateKeys   []string `mapstructure:"private_keys"`   // 托管的私钥（十六进制）
	AllowUnsigned bool     `mapstructure:"allow_unsigned"` // 允许无私钥身份，仅 memory 链有效
}

// ProjectionConfig 投影与缓存
type ProjectionConfig struct {
	Workers     int           `mapstructure:"workers"`      // 并发读取上限
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`    // 缓存有效期
	ReadRetries uint64        `mapstructure:"read_retries"` // 读调用重试次数
}

type AmountConfig struct {
	Decimals  int `mapstructure:"decimals"`
	Precision int `mapstructure:"precision"`
}

// RedisConfig 多实例间广播缓存失效
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type TaskConfig struct {
	ReceiptInterval time.Duration `mapstructure:"receipt_interval"` // 回执确认任务间隔
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`   // 缓存清理任务间隔
}

type MonitorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int64         `mapstructure:"batch_size"` // 单次拉取的区块数
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`   // 为空时不校验 JWT
	AllowHeader bool   `mapstructure:"allow_header"` // 允许 X-Party-Address 头
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.Options 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.Options 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.Options 接口
func (l LogConfig) GetFile() string {
	return l.File
}

// IsMemory 是否使用进程内账本
func (c ChainConfig) IsMemory() bool {
	return c.ChainType == ChainTypeMemory
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "escrow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "escrow.db")
	v.SetDefault("chain.chain_type", ChainTypeMemory)
	v.SetDefault("chain.chain_id", 1337)
	v.SetDefault("chain.confirmations", 12)
	v.SetDefault("chain.call_timeout", 10*time.Second)
	v.SetDefault("chain.tx_timeout", 2*time.Minute)
	v.SetDefault("wallet.allow_unsigned", true)
	v.SetDefault("projection.workers", 16)
	v.SetDefault("projection.cache_ttl", 30*time.Second)
	v.SetDefault("projection.read_retries", 3)
	v.SetDefault("amount.decimals", 18)
	v.SetDefault("amount.precision", 6)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "escrow:projection:invalidate")
	v.SetDefault("task.receipt_interval", 15*time.Second)
	v.SetDefault("task.sweep_interval", time.Minute)
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.interval", 15*time.Second)
	v.SetDefault("monitor.batch_size", 500)
	v.SetDefault("auth.allow_header", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}

// Load 从默认路径加载配置，失败时退出进程
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/escrow")

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	config, err := decode(v)
	if err != nil {
		logger.Fatal("Unable to load config: %v", err)
	}
	return config
}

// LoadFile 从指定文件加载配置
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// 自动读取环境变量，如 ESCROW_CHAIN_RPC_URL
	v.SetEnvPrefix("escrow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	if c.Projection.Workers <= 0 {
		return fmt.Errorf("projection.workers must be positive, got %d", c.Projection.Workers)
	}
	if c.Amount.Precision > c.Amount.Decimals {
		return fmt.Errorf("amount.precision %d exceeds amount.decimals %d", c.Amount.Precision, c.Amount.Decimals)
	}
	if c.Task.ReceiptInterval <= 0 || c.Task.SweepInterval <= 0 {
		return fmt.Errorf("task intervals must be positive")
	}
	if c.Chain.IsMemory() {
		return nil
	}
	if c.Chain.RpcUrl == "" {
		return fmt.Errorf("chain.rpc_url is required for chain type %s", c.Chain.ChainType)
	}
	escrow, ok := c.Chain.Contracts[EscrowContract]
	if !ok || !escrow.Enabled || escrow.Address == "" {
		return fmt.Errorf("chain.contracts.%s must be enabled with an address", EscrowContract)
	}
	if c.Wallet.AllowUnsigned {
		logger.Warn("wallet.allow_unsigned is ignored for chain type %s", c.Chain.ChainType)
		c.Wallet.AllowUnsigned = false
	}
	// 托管签名的调用方只能通过令牌认证
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required for chain type %s", c.Chain.ChainType)
	}
	if c.Auth.AllowHeader {
		logger.Warn("auth.allow_header is ignored for chain type %s", c.Chain.ChainType)
		c.Auth.AllowHeader = false
	}
	return nil
}
