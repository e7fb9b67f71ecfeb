// Package main 是聊天网关的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BARKKNIGHT/local-ai-chat/internal/config"
	"github.com/BARKKNIGHT/local-ai-chat/internal/engine"
	"github.com/BARKKNIGHT/local-ai-chat/internal/handler"
	"github.com/BARKKNIGHT/local-ai-chat/internal/middleware"
	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/internal/repository"
	"github.com/BARKKNIGHT/local-ai-chat/internal/service"
	"github.com/BARKKNIGHT/local-ai-chat/internal/session"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/account"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/database"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/kv"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/llm"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/storage"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化 Redis 与 MinIO（权重缓存）
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	// 4. 初始化 Repository
	store := kv.NewRedisStore(database.RDB)
	conversationRepo := repository.NewConversationRepository(store)
	settingsRepo := repository.NewSettingsRepository(store)

	// 5. 组装推理会话管理器
	runtime := engine.NewSidecarRuntime(cfg.Engine.RuntimeBaseURL)
	weights := storage.NewWeightCache(storage.MinioClient, cfg.MinIO.BucketName)
	localEngine := engine.NewLocalEngine(runtime, weights, cfg.Engine.HubBaseURL)

	newRemote := func(baseURL, modelID string) llm.Client {
		return llm.NewClient(llm.Options{BaseURL: baseURL, APIKey: cfg.LLM.APIKey, Model: modelID})
	}

	gen := generationParams(cfg.LLM.Generation)
	mode := model.EngineMode(cfg.Engine.Mode)
	if mode != model.ModeLocal && mode != model.ModeRemote {
		mode = model.ModeLocal
	}
	manager := session.NewManager(mode, localEngine, newRemote, gen)

	// 启动时预加载默认本地模型（可选）
	if mode == model.ModeLocal && cfg.Engine.DefaultModel != "" {
		go func() {
			if err := manager.SelectModel(context.Background(), cfg.Engine.DefaultModel); err != nil {
				log.Errorf("预加载默认模型失败: %v", err)
			}
		}()
	}

	// 6. 初始化 Service 与账号服务客户端 (依赖注入)
	chatService := service.NewChatService(manager, conversationRepo)
	tutorService := service.NewTutorService(manager)
	accountClient := account.NewClient(cfg.Account.BaseURL)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	conversationHandler := handler.NewConversationHandler(chatService)
	engineHandler := handler.NewEngineHandler(manager)
	settingsHandler := handler.NewSettingsHandler(settingsRepo)
	courseHandler := handler.NewCourseHandler(accountClient, settingsRepo)

	apiV1 := r.Group("/api/v1")
	{
		conversations := apiV1.Group("/conversations")
		{
			conversations.GET("", conversationHandler.List)
			conversations.POST("", conversationHandler.Create)
			conversations.GET("/:id/messages", conversationHandler.Messages)
			conversations.DELETE("/:id", conversationHandler.Delete)
		}

		engineGroup := apiV1.Group("/engine")
		{
			engineGroup.GET("/state", engineHandler.State)
			engineGroup.POST("/mode", engineHandler.SelectMode)
			engineGroup.GET("/models", engineHandler.Models)
			engineGroup.POST("/models/select", engineHandler.SelectModel)
			engineGroup.DELETE("/models/:id/cache", engineHandler.Evict)
			engineGroup.POST("/endpoint", engineHandler.UseEndpoint)
			engineGroup.POST("/cancel", engineHandler.Cancel)
		}

		settings := apiV1.Group("/settings")
		{
			settings.GET("", settingsHandler.Get)
			settings.PUT("", settingsHandler.Update)
		}

		courses := apiV1.Group("/courses")
		{
			courses.POST("/register", courseHandler.Register)
			courses.POST("/login", courseHandler.Login)
			courses.POST("/logout", courseHandler.Logout)
			courses.GET("/me", courseHandler.Me)
			courses.GET("", courseHandler.Courses)
			courses.POST("/complete", courseHandler.Complete)
			courses.POST("/rate", courseHandler.Rate)
		}
	}

	// WebSocket 路由
	r.GET("/ws/chat", handler.NewChatHandler(chatService, manager).Handle)
	r.GET("/ws/tutor", handler.NewTutorHandler(tutorService, manager, accountClient, settingsRepo).Handle)
	r.GET("/ws/events", engineHandler.Events)

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭服务...")

	// 先取消在途生成，再给未完成的请求一个收尾窗口
	manager.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务被强制关闭: %v", err)
	}
	log.Info("服务已退出")
}

// generationParams 把配置中的生成参数转换为调用层结构，零值字段不下发。
func generationParams(cfg config.LLMGenerationConfig) *llm.GenerationParams {
	gen := &llm.GenerationParams{}
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gen.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gen.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		n := cfg.MaxTokens
		gen.MaxTokens = &n
	}
	return gen
}
