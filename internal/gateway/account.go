package gateway

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	gatewaydb "github.com/nao1215/tankwiki/internal/gateway/db"
	"github.com/nao1215/tankwiki/pkg/apperr"
	"github.com/nao1215/tankwiki/pkg/logctx"
	"github.com/nao1215/tankwiki/pkg/token"
)

// defaultRights は新規ユーザーの権限（閲覧とコメント）。
const defaultRights = "r,c"

// readBan はログインを禁止する停止種別。
const readBan = "r"

// registerRequest はユーザー登録のリクエストボディ。
type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=24"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// handleRegister はユーザーを登録してセッショントークンを発行するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "gateway.handleRegister"
		ctx := c.Request.Context()

		var req registerRequest
		if err := s.validate.bind(c, &req); err != nil {
			apperr.Write(c, err)
			return
		}

		if taken, err := s.queries.UserNameExists(ctx, req.Username); err != nil {
			s.internalError(c, op, err)
			return
		} else if taken {
			apperr.Write(c, apperr.New(apperr.KindConflict, "username_taken"))
			return
		}
		if taken, err := s.queries.UserEmailExists(ctx, req.Email); err != nil {
			s.internalError(c, op, err)
			return
		} else if taken {
			apperr.Write(c, apperr.New(apperr.KindConflict, "email_taken"))
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			s.internalError(c, op, err)
			return
		}

		userID, err := s.queries.CreateUser(ctx, gatewaydb.CreateUserParams{
			Name:         req.Username,
			Email:        req.Email,
			PasswordHash: string(hash),
			Rights:       defaultRights,
		})
		if err != nil {
			if reason, ok := uniqueViolation(err); ok {
				apperr.Write(c, &apperr.Error{Kind: apperr.KindConflict, Reason: reason, Err: err})
				return
			}
			s.internalError(c, op, err)
			return
		}

		tok, err := s.sessions.Issue(token.Identity{UserID: userID, Username: req.Username})
		if err != nil {
			s.internalError(c, op, err)
			return
		}

		logctx.From(ctx).InfoContext(ctx, "ユーザーを登録しました", slog.Int64("user_id", userID))
		c.Header("Location", fmt.Sprintf("/users/%d", userID))
		c.JSON(http.StatusCreated, gin.H{"userId": userID, "token": tok})
	}
}

// handleLogin はメールアドレスとパスワードで認証してセッショントークンを発行するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "gateway.handleLogin"
		ctx := c.Request.Context()

		var req loginRequest
		if err := s.validate.bind(c, &req); err != nil {
			apperr.Write(c, err)
			return
		}

		user, err := s.queries.GetUserByEmail(ctx, req.Email)
		if errors.Is(err, sql.ErrNoRows) {
			apperr.Write(c, apperr.New(apperr.KindUnauthenticated, "invalid_credentials"))
			return
		}
		if err != nil {
			s.internalError(c, op, err)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			apperr.Write(c, apperr.New(apperr.KindUnauthenticated, "invalid_credentials"))
			return
		}

		if hasBan(user.BanType, readBan) {
			logctx.From(ctx).InfoContext(ctx, "停止中のユーザーのログインを拒否しました", slog.Int64("user_id", user.ID))
			apperr.Write(c, apperr.New(apperr.KindForbidden, "account_banned").WithFields(banFields(user)))
			return
		}

		tok, err := s.sessions.Issue(token.Identity{UserID: user.ID, Username: user.Name})
		if err != nil {
			s.internalError(c, op, err)
			return
		}

		c.Header("Location", "/tanks")
		c.JSON(http.StatusCreated, gin.H{"token": tok})
	}
}

// hasBan はカンマ区切りの停止種別に kind が含まれるかを返す。
func hasBan(banType, kind string) bool {
	for _, t := range strings.Split(banType, ",") {
		if strings.TrimSpace(t) == kind {
			return true
		}
	}
	return false
}

// banFields は停止情報をレスポンスのフィールドに変換する。
func banFields(u gatewaydb.User) map[string]any {
	fields := map[string]any{"banDate": nil, "banReason": nil}
	if u.BanDate.Valid {
		fields["banDate"] = u.BanDate.Time.UTC().Format(time.RFC3339)
	}
	if u.BanReason.Valid {
		fields["banReason"] = u.BanReason.String
	}
	return fields
}

// uniqueViolation はSQLiteの一意制約違反を理由文字列に変換する。
// 事前の存在確認と INSERT の間に同じ値が登録された場合に発生する。
func uniqueViolation(err error) (string, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return "", false
	}
	if strings.Contains(se.Error(), "users.email") {
		return "email_taken", true
	}
	return "username_taken", true
}

// internalError は原因をログに出力して internal エラーを返す。
func (s *Server) internalError(c *gin.Context, op string, err error) {
	ctx := c.Request.Context()
	logctx.From(ctx).ErrorContext(ctx, "リクエストの処理に失敗", slog.String("op", op), slog.Any("error", err))
	apperr.Write(c, apperr.Wrap(apperr.KindInternal, fmt.Errorf("%s: %w", op, err)))
}
