package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/blues/escrow/internal/apperr"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RuleNoIdentity 没有可用于签名的身份
const RuleNoIdentity = "NoSigningIdentity"

// ErrUnsigned 无私钥身份不能签名交易
var ErrUnsigned = errors.New("identity has no signing key")

// Identity 代表一方发送交易的身份
type Identity interface {
	Address() common.Address
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

type keyedIdentity struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewKeyed 由十六进制私钥创建身份
func NewKeyed(hexKey string, chainID *big.Int) (Identity, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &keyedIdentity{key: key, address: crypto.PubkeyToAddress(key.PublicKey), chainID: chainID}, nil
}

func (k *keyedIdentity) Address() common.Address {
	return k.address
}

func (k *keyedIdentity) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(k.key, k.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor for %s: %w", k.address.Hex(), err)
	}
	opts.Context = ctx
	return opts, nil
}

type unsignedIdentity struct {
	address common.Address
}

// Unsigned 只有地址的身份，仅用于内存账本
func Unsigned(address common.Address) Identity {
	return unsignedIdentity{address: address}
}

func (u unsignedIdentity) Address() common.Address {
	return u.address
}

func (u unsignedIdentity) TransactOpts(context.Context) (*bind.TransactOpts, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsigned, u.address.Hex())
}

// Provider 按地址提供签名身份
type Provider struct {
	mu            sync.RWMutex
	identities    map[common.Address]Identity
	allowUnsigned bool
}

// NewProvider 加载私钥；allowUnsigned 时未知地址返回无私钥身份
func NewProvider(privateKeys []string, chainID *big.Int, allowUnsigned bool) (*Provider, error) {
	p := &Provider{
		identities:    make(map[common.Address]Identity, len(privateKeys)),
		allowUnsigned: allowUnsigned,
	}
	for i, hexKey := range privateKeys {
		id, err := NewKeyed(hexKey, chainID)
		if err != nil {
			return nil, fmt.Errorf("wallet key #%d: %w", i, err)
		}
		p.Add(id)
	}
	return p, nil
}

// Add 注册身份
func (p *Provider) Add(id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities[id.Address()] = id
}

// Identity 获取地址对应的身份
func (p *Provider) Identity(address common.Address) (Identity, error) {
	p.mu.RLock()
	id, ok := p.identities[address]
	p.mu.RUnlock()
	if ok {
		return id, nil
	}
	if p.allowUnsigned {
		return Unsigned(address), nil
	}
	return nil, apperr.Unauthorized(RuleNoIdentity, "no signing identity available for %s", address.Hex())
}

// Addresses 已加载私钥的地址
func (p *Provider) Addresses() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]common.Address, 0, len(p.identities))
	for addr := range p.identities {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}
