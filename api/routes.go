/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers
 */

package api

import (
	"validator-service/api/controllers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 校验配置管理
	r.Route("/configs", func(r chi.Router) {
		configController := controllers.NewConfigController()
		r.Post("/", configController.CreateConfig)
		r.Get("/", configController.ListConfigs)
		r.Get("/{id}", configController.GetConfig)
		r.Put("/{id}", configController.UpdateConfig)
		r.Delete("/{id}", configController.DeleteConfig)
	})

	// 校验运行管理
	r.Route("/validations", func(r chi.Router) {
		validationController := controllers.NewValidationController()
		r.Post("/trigger/{config_id}", validationController.TriggerValidation)
		r.Get("/", validationController.ListRuns)
		r.Get("/{run_id}", validationController.GetRun)
		r.Get("/{run_id}/anomalies", validationController.GetRunAnomalies)
	})
}
