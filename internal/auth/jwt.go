package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// PartyHeader 开发模式下直接声明调用方地址的请求头
const PartyHeader = "X-Party-Address"

// ErrMissingCredentials 请求未携带身份
var ErrMissingCredentials = errors.New("missing credentials")

// GenerateToken 为参与方地址签发令牌，sub 为地址
func GenerateToken(party common.Address, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   party.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken 校验令牌并取出参与方地址
func ParseToken(tokenStr, secret string) (common.Address, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, jwt.ErrTokenInvalidClaims
	}
	return ParseParty(claims.Subject)
}

// ParseParty 解析参与方地址
func ParseParty(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid party address %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("invalid party address %q", s)
	}
	return addr, nil
}

// ExtractToken 取出 Bearer 令牌
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// Authenticator 从请求中确定调用方
type Authenticator struct {
	secret      string
	allowHeader bool
}

// NewAuthenticator secret 为空时不接受令牌
func NewAuthenticator(secret string, allowHeader bool) *Authenticator {
	return &Authenticator{secret: secret, allowHeader: allowHeader}
}

// Party 优先使用令牌，其次在允许时使用请求头
func (a *Authenticator) Party(r *http.Request) (common.Address, error) {
	if token := ExtractToken(r); token != "" && a.secret != "" {
		return ParseToken(token, a.secret)
	}
	if a.allowHeader {
		if h := r.Header.Get(PartyHeader); h != "" {
			return ParseParty(h)
		}
	}
	return common.Address{}, ErrMissingCredentials
}
