package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"menu_service_go/internal/config"
	"menu_service_go/internal/handler"
	"menu_service_go/internal/middleware"
	"menu_service_go/internal/repository"
	"menu_service_go/internal/service"
	"menu_service_go/pkg/database"
	"menu_service_go/pkg/log"
	"menu_service_go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	config.Init("configs/config.yaml")
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	log.Info("Server started")

	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.RunMigrate(); err != nil {
		log.Fatal("Failed to run migrations", err)
		return
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	jwtManager := token.NewJWTManager(
		cfg.JWT.Secret,
		time.Duration(cfg.JWT.AccessTokenExpireHours)*time.Hour,
		time.Duration(cfg.JWT.RefreshTokenExpireDays)*24*time.Hour,
	)

	// 依赖装配：repository -> service -> handler
	userRepo := repository.NewUserRepository(database.DB)
	menuRepo := repository.NewMenuRepository(database.DB)

	userService := service.NewUserService(userRepo, jwtManager)
	menuService := service.NewMenuService(menuRepo, database.RDB)

	userHandler := handler.NewUserHandler(userService)
	menuHandler := handler.NewMenuHandler(menuService)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	api := r.Group("/api")

	// 账号路由
	auth := api.Group("/auth")
	{
		auth.POST("/register", userHandler.Register)
		auth.POST("/login", userHandler.Login)
	}
	authProtected := api.Group("/auth")
	authProtected.Use(middleware.AuthMiddleware(jwtManager, userService))
	{
		authProtected.POST("/logout", userHandler.Logout)
		authProtected.GET("/profile", userHandler.GetProfile)
	}

	// 菜单读路由：开放访问
	menus := api.Group("/menus")
	{
		menus.GET("/tree", menuHandler.GetTree)
		menus.GET("", menuHandler.List)
		menus.GET("/:id", menuHandler.Get)
	}

	// 菜单写路由：需要管理员身份
	menusAdmin := api.Group("/menus")
	menusAdmin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
	{
		menusAdmin.POST("", menuHandler.Create)
		menusAdmin.PATCH("/:id", menuHandler.Update)
		menusAdmin.DELETE("/:id", menuHandler.Delete)
	}

	// 管理员用户管理
	usersAdmin := api.Group("/users")
	usersAdmin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
	{
		usersAdmin.GET("", userHandler.ListUsers)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
