// tankwikiの運用コマンド。ゲートウェイと同じ設定ファイルとデータベースを使う。
//
//	admin ban   --email user@example.com --type r --reason "..."
//	admin unban --email user@example.com
//	admin tanks
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	_ "modernc.org/sqlite"

	"github.com/nao1215/tankwiki/internal/config"
	gatewaydb "github.com/nao1215/tankwiki/internal/gateway/db"
	"github.com/nao1215/tankwiki/internal/provision"
)

const usage = `使い方: admin <ban|unban|tanks> [flags]

  ban    ユーザーを利用停止にする（--type r でログイン不可、c でコメント不可）
  unban  利用停止を解除する
  tanks  設定の catalog.tanks をデータベースに登録する
`

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(context.Background(), os.Args[1], os.Args[2:], log); err != nil {
		log.Error("adminコマンドが失敗しました", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, log *slog.Logger) error {
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "設定ファイルのパス（環境変数 CONFIG_PATH より優先）")
	email := fs.String("email", "", "対象ユーザーのメールアドレス")
	banType := fs.String("type", "r", "停止種別")
	reason := fs.String("reason", "", "停止理由")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	sqlDB, err := sql.Open("sqlite", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer sqlDB.Close()

	if err := gatewaydb.Migrate(ctx, sqlDB); err != nil {
		return err
	}

	switch cmd {
	case "ban", "unban":
		if *email == "" {
			return errors.New("--email が必要です")
		}
		b := provision.Ban{Email: *email, Type: *banType, Reason: *reason, At: time.Now()}
		if cmd == "unban" {
			b = provision.Ban{Email: *email}
		}
		if err := provision.BanUser(ctx, gatewaydb.New(sqlDB), b); err != nil {
			return err
		}
		log.Info("利用停止を更新しました", slog.String("email", b.Email), slog.String("type", b.Type))
		return nil
	case "tanks":
		n, err := provision.Tanks(ctx, sqlDB, cfg.Catalog.Tanks)
		if err != nil {
			return err
		}
		log.Info("車両の別名表を登録しました", slog.Int("tanks", n))
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("未知のコマンド: %s", cmd)
	}
}
