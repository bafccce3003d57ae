package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nao1215/tankwiki/pkg/apperr"
)

const (
	// Issuer はゲートウェイが発行する全トークンの発行者。
	Issuer = "tankwiki-gateway"
	// SessionAudience はクライアント向けセッショントークンの受信者。
	SessionAudience = "tankwiki-client"

	bearerPrefix = "Bearer "
)

// SessionSecret はセッショントークンの署名鍵。
// ServiceSecret とは別の型にして取り違えを防ぐ。
type SessionSecret []byte

// Identity は認証済みの呼び出し元。
type Identity struct {
	// UserID はユーザーの一意識別子。
	UserID int64
	// Username はユーザー名。登録直後のトークンには含まれない。
	Username string
}

// SessionClaims はセッショントークンのクレーム。
type SessionClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーのID。
	UserID int64 `json:"userId"`
	// Username はユーザー名。
	Username string `json:"username,omitempty"`
}

// SessionAuthenticator はセッショントークンの発行と検証を行う。
type SessionAuthenticator struct {
	secret SessionSecret
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionAuthenticator は新しい SessionAuthenticator を生成する。
func NewSessionAuthenticator(secret SessionSecret, ttl time.Duration) (*SessionAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: セッション署名鍵が空です")
	}
	if ttl <= 0 {
		return nil, errors.New("token: セッショントークンの有効期間は正の値が必要です")
	}
	return &SessionAuthenticator{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue は Identity を埋め込んだセッショントークンを署名する。
func (a *SessionAuthenticator) Issue(id Identity) (string, error) {
	now := a.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{SessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		UserID:   id.UserID,
		Username: id.Username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.secret))
	if err != nil {
		return "", fmt.Errorf("セッショントークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Authenticate は "Bearer <token>" 形式のヘッダーを検証して Identity を返す。
// ヘッダーが無い、または形式が不正な場合は apperr.ErrUnauthenticated、
// 署名不正・期限切れの場合は apperr.ErrForbidden に分類されるエラーを返す。
func (a *SessionAuthenticator) Authenticate(header string) (Identity, error) {
	raw, err := bearer(header)
	if err != nil {
		return Identity{}, err
	}
	return a.Verify(raw)
}

// Verify はセッショントークン文字列を検証して Identity を返す。
func (a *SessionAuthenticator) Verify(raw string) (Identity, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, keyFunc([]byte(a.secret)),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(SessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, &apperr.Error{Kind: apperr.KindForbidden, Reason: "token_expired", Err: err}
		}
		return Identity{}, &apperr.Error{Kind: apperr.KindForbidden, Reason: "token_invalid", Err: err}
	}
	if claims.UserID <= 0 {
		return Identity{}, apperr.New(apperr.KindForbidden, "token_invalid")
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// bearer は Authorization ヘッダーからトークン部分を取り出す。
func bearer(header string) (string, error) {
	if header == "" {
		return "", apperr.New(apperr.KindUnauthenticated, "authorization_missing")
	}
	raw, found := strings.CutPrefix(header, bearerPrefix)
	if !found || strings.TrimSpace(raw) == "" {
		return "", apperr.New(apperr.KindUnauthenticated, "authorization_malformed")
	}
	return strings.TrimSpace(raw), nil
}

// keyFunc はHS256以外のアルゴリズムを拒否する jwt.Keyfunc を返す。
func keyFunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("想定外の署名アルゴリズム: %v", t.Header["alg"])
		}
		return secret, nil
	}
}
