// Package main 是账号/积分/评分服务的入口点。
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
	"github.com/BARKKNIGHT/local-ai-chat/internal/handler"
	"github.com/BARKKNIGHT/local-ai-chat/internal/middleware"
	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/internal/repository"
	"github.com/BARKKNIGHT/local-ai-chat/internal/service"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/database"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/token"
)

func main() {
	// 1. 初始化配置
	configPath := "./configs/accountd.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库并迁移表结构
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.User{}, &model.Completion{}, &model.Rating{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	courseRepo := repository.NewCourseRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	courses, err := service.LoadCourses(cfg.Account.CoursesFile)
	if err != nil {
		log.Fatalf("加载课程清单失败: %v", err)
	}
	log.Infof("课程清单加载完成，共 %d 门课程", len(courses))
	accountService := service.NewAccountService(userRepo, courseRepo, jwtManager, courses)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	accountHandler := handler.NewAccountHandler(accountService)
	api := r.Group("/api")
	{
		api.POST("/register", accountHandler.Register)
		api.POST("/login", accountHandler.Login)

		// 课程列表对未登录用户开放，带令牌时附带完成标记
		api.GET("/courses", middleware.OptionalAuthMiddleware(jwtManager, accountService), accountHandler.Courses)

		authed := api.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager, accountService))
		{
			authed.GET("/me", accountHandler.Me)
			authed.POST("/complete_course", accountHandler.CompleteCourse)
			authed.POST("/rate_course", accountHandler.RateCourse)
		}
	}

	// 8. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("账号服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务被强制关闭: %v", err)
	}
	log.Info("服务已退出")
}
