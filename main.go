package main

import (
	"flag"
	"log"
	"path/filepath"

	"chemquest_backend/internal/app"
	"chemquest_backend/internal/config"
	"chemquest_backend/pkg/database"
	"chemquest_backend/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	watch := flag.Bool("watch-config", true, "监听配置文件并热更新调参")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if *migrateOnly {
		if _, err := database.InitDB(&cfg.Database, false); err != nil {
			logger.Log.Fatal("Migration failed", zap.Error(err))
		}
		logger.Log.Info("数据库迁移完成，退出程序")
		return
	}

	var opts []app.Option
	if *watch {
		opts = append(opts, app.WithConfigPath(filepath.Join(*configDir, "config.yaml")))
	}

	application, err := app.NewApp(cfg, opts...)
	if err != nil {
		logger.Log.Fatal("Failed to initialize application", zap.Error(err))
	}

	application.Run()
}
