// internal/app/app.go
package app

import (
	"fmt"

	"github.com/Corphon/ElementFusion/internal/api"
	"github.com/Corphon/ElementFusion/internal/config"
	"github.com/Corphon/ElementFusion/internal/di"
	"github.com/Corphon/ElementFusion/internal/services"
	"github.com/Corphon/ElementFusion/internal/storage"
)

// InitServices 按依赖顺序初始化所有服务并注册到DI容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	container := di.GetContainer()

	// 1. 数据库连接和迁移
	db, err := storage.OpenDB(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}

	if err := storage.AutoMigrate(db); err != nil {
		return fmt.Errorf("迁移数据库失败: %w", err)
	}
	container.Register("db", db)

	// 2. 存储层
	store := storage.NewElementStore(db)
	container.Register("store", store)

	cache := storage.NewComboCache(cfg.ComboCacheSize, cfg.ComboCacheTTL)
	container.Register("combo_cache", cache)

	// 3. 生成服务（配置缺失时进入未就绪状态，不阻止启动）
	generationService := services.NewGenerationService()
	container.Register("generation", generationService)

	// 4. 发现广播中心
	hub := api.NewDiscoveryHub()
	container.Register("ws_hub", hub)

	// 5. 业务服务
	combinationService := services.NewCombinationService(store, generationService, cache, hub)
	container.Register("combination", combinationService)

	elementService := services.NewElementService(store)
	container.Register("element", elementService)

	return nil
}
