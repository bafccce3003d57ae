package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceAudience は内部サービス向けサービストークンの受信者。
const ServiceAudience = "tankwiki-internal"

// ServiceSecret はサービストークンの署名鍵。
// SessionSecret とは別の型で、相互に代入できない。
type ServiceSecret []byte

// ServiceClaims はサービストークンのクレーム。
type ServiceClaims struct {
	jwt.RegisteredClaims
	// UserID は代理で呼び出すユーザーのID。
	UserID int64 `json:"userId"`
}

// ServiceSigner は下流サービス呼び出しごとにサービストークンを発行する。
type ServiceSigner struct {
	secret ServiceSecret
	ttl    time.Duration
	now    func() time.Time
}

// NewServiceSigner は新しい ServiceSigner を生成する。
func NewServiceSigner(secret ServiceSecret, ttl time.Duration) (*ServiceSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: サービス署名鍵が空です")
	}
	if ttl <= 0 {
		return nil, errors.New("token: サービストークンの有効期間は正の値が必要です")
	}
	return &ServiceSigner{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Mint は userID に限定したサービストークンを署名する。
// 呼び出しごとに jti を変えるため、同じユーザーでも毎回異なるトークンになる。
func (s *ServiceSigner) Mint(userID int64) (string, error) {
	now := s.now()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  jwt.ClaimStrings{ServiceAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID: userID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
	if err != nil {
		return "", fmt.Errorf("サービストークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ServiceVerifier は下流サービス側でサービストークンを検証する。
type ServiceVerifier struct {
	secret ServiceSecret
}

// NewServiceVerifier は新しい ServiceVerifier を生成する。
func NewServiceVerifier(secret ServiceSecret) *ServiceVerifier {
	return &ServiceVerifier{secret: secret}
}

// Verify はサービストークンを検証してクレームを返す。
// セッショントークンは受信者が異なるため、同じ鍵で署名されていても拒否される。
func (v *ServiceVerifier) Verify(raw string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, keyFunc([]byte(v.secret)),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(ServiceAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("サービストークンの検証に失敗: %w", err)
	}
	return claims, nil
}
