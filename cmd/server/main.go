package main

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/escrow/internal/amount"
	"github.com/blues/escrow/internal/auth"
	"github.com/blues/escrow/internal/cache"
	"github.com/blues/escrow/internal/chain"
	"github.com/blues/escrow/internal/config"
	"github.com/blues/escrow/internal/escrow"
	"github.com/blues/escrow/internal/handler"
	"github.com/blues/escrow/internal/ledger"
	"github.com/blues/escrow/internal/logger"
	"github.com/blues/escrow/internal/monitor"
	"github.com/blues/escrow/internal/projector"
	"github.com/blues/escrow/internal/repository"
	"github.com/blues/escrow/internal/router"
	"github.com/blues/escrow/internal/task"
	"github.com/blues/escrow/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"
)

// ledgerBackend 账本及其区块数据来源
type ledgerBackend struct {
	gateway  ledger.Gateway
	contract *chain.Contract
	receipts chain.ReceiptReader
	logs     chain.LogFilterer
	status   handler.ChainStatus
	close    func()
}

func main() {
	// 加载配置
	cfg := config.Load()

	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化账本
	backend, err := initLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger: %v", err)
	}
	defer backend.close()

	codec, err := amount.New(cfg.Amount.Decimals, cfg.Amount.Precision)
	if err != nil {
		logger.Fatal("Invalid amount config: %v", err)
	}

	wallets, err := wallet.NewProvider(cfg.Wallet.PrivateKeys, big.NewInt(cfg.Chain.ChainId), cfg.Wallet.AllowUnsigned)
	if err != nil {
		logger.Fatal("Failed to load wallets: %v", err)
	}
	logger.Info("Loaded %d signing identities", len(wallets.Addresses()))

	// 投影读取与事件回查共用一个协程池
	pool, err := ants.NewPool(cfg.Projection.Workers)
	if err != nil {
		logger.Fatal("Failed to create worker pool: %v", err)
	}
	defer pool.Release()

	proj := projector.New(backend.gateway, pool, cache.NewProjectionCache(cfg.Projection.CacheTTL), codec, projector.Options{})

	if cfg.Redis.Enabled {
		bus, err := cache.NewRedisBus(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			logger.Fatal("Failed to connect to redis: %v", err)
		}
		defer bus.Close()
		proj.SetPublisher(bus)
		if err := bus.Subscribe(ctx, func(parties []common.Address) {
			proj.InvalidateLocal("remote", parties...)
		}); err != nil {
			logger.Fatal("Failed to subscribe to invalidations: %v", err)
		}
	}

	// 初始化命令流水库
	var (
		journal    escrow.Journal
		commandLog handler.CommandLog
		receiptLog task.ReceiptJournal
	)
	if cfg.Database.Enabled {
		db, err := repository.Init(cfg.Database)
		if err != nil {
			logger.Fatal("Failed to initialize database: %v", err)
		}
		j := repository.NewCommandJournal(db)
		journal, commandLog, receiptLog = j, j, j
	}

	svc := escrow.NewService(backend.gateway, proj, journal)

	// 启动定时任务
	tm, err := task.NewTaskManager()
	if err != nil {
		logger.Fatal("%v", err)
	}
	if err := tm.Register(task.NewCacheSweepJob(proj, cfg.Task.SweepInterval)); err != nil {
		logger.Fatal("%v", err)
	}
	if receiptLog != nil {
		job := task.NewReceiptJob(receiptLog, backend.receipts, proj, cfg.Chain.Confirmations, cfg.Task.ReceiptInterval)
		if err := tm.Register(job); err != nil {
			logger.Fatal("%v", err)
		}
	}
	tm.Start()
	defer tm.Stop()

	// 启动事件监控
	var monitorStatus func() map[string]interface{}
	if cfg.Monitor.Enabled {
		m := monitor.NewEventMonitor(backend.logs, backend.contract, backend.gateway, proj, pool, monitor.Options{
			Interval:  cfg.Monitor.Interval,
			BatchSize: uint64(cfg.Monitor.BatchSize),
		})
		if err := m.Start(); err != nil {
			logger.Fatal("Failed to start event monitor: %v", err)
		}
		defer m.Stop()
		monitorStatus = m.GetStatus
	}

	// 初始化路由
	r := router.Setup(cfg.Server, auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.AllowHeader), router.Handlers{
		Dashboard: handler.NewDashboardHandler(proj, codec),
		Commands:  handler.NewCommandHandler(svc, wallets, commandLog, codec),
		Health:    handler.NewHealthHandler(backend.status, monitorStatus),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed: %v", err)
	}
}

// initLedger memory 链使用进程内账本，其他链连接节点
func initLedger(ctx context.Context, cfg *config.Config) (*ledgerBackend, error) {
	if cfg.Chain.IsMemory() {
		l := ledger.NewMemoryLedger()
		contract, err := chain.NewContract(nil, config.EscrowContract,
			config.ContractConfig{Address: ledger.MemoryContractAddress.Hex(), Enabled: true}, cfg.Chain.ChainId, ledger.EscrowABI)
		if err != nil {
			return nil, err
		}
		logger.Warn("Using in-process memory ledger, state is lost on restart")
		return &ledgerBackend{gateway: l, contract: contract, receipts: l, logs: l, status: l, close: func() {}}, nil
	}

	mgr, err := chain.NewManager(ctx, cfg.Chain, ledger.EscrowABI)
	if err != nil {
		return nil, err
	}
	contract, err := mgr.GetContract(config.EscrowContract)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	client := mgr.GetClient()
	gateway := ledger.NewEthGateway(contract, client, ledger.EthGatewayConfig{
		CallTimeout: cfg.Chain.CallTimeout,
		TxTimeout:   cfg.Chain.TxTimeout,
		ReadRetries: cfg.Projection.ReadRetries,
	})
	return &ledgerBackend{
		gateway:  gateway,
		contract: contract,
		receipts: client,
		logs:     client,
		status:   mgr,
		close: func() {
			if err := mgr.Close(); err != nil {
				logger.Error("Failed to close chain manager: %v", err)
			}
		},
	}, nil
}
