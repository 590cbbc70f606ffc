/*
 * @module api/controllers/config_controller
 * @description 校验配置API控制器，提供配置的增删改查
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow HTTP请求处理流程
 * @rules 统一的错误处理和响应格式，参数验证；配置变更在下一次调度运行生效
 * @dependencies validator-service/service, github.com/go-chi/render
 * @refs service/storage/config_store.go
 */

package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"validator-service/service"
	"validator-service/service/models"
	"validator-service/service/storage"
)

// ConfigController 校验配置控制器
type ConfigController struct {
	store *storage.ConfigStore
}

// NewConfigController 创建校验配置控制器实例
func NewConfigController() *ConfigController {
	return &ConfigController{
		store: service.GlobalConfigStore,
	}
}

// CreateConfig 创建校验配置
// @Summary 创建校验配置
// @Description 创建新的服务数据一致性校验配置
// @Tags 校验配置
// @Accept json
// @Produce json
// @Param config body models.ValidationConfig true "校验配置信息"
// @Success 200 {object} APIResponse{data=models.ValidationConfig}
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /configs [post]
func (c *ConfigController) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req models.ValidationConfig
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse(fmt.Sprintf("请求参数格式错误:%s", err.Error()), nil))
		return
	}

	if err := c.store.Create(r.Context(), &req); err != nil {
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("创建成功", &req))
}

// GetConfig 获取校验配置详情
// @Summary 获取校验配置详情
// @Description 根据ID获取校验配置详细信息
// @Tags 校验配置
// @Produce json
// @Param id path string true "校验配置ID"
// @Success 200 {object} APIResponse{data=models.ValidationConfig}
// @Failure 404 {object} APIResponse
// @Router /configs/{id} [get]
func (c *ConfigController) GetConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		render.JSON(w, r, BadRequestResponse("ID参数不能为空", nil))
		return
	}

	config, err := c.store.Get(r.Context(), id)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("校验配置不存在", nil))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", config))
}

// ListConfigs 获取校验配置列表
// @Summary 获取校验配置列表
// @Description 获取全部校验配置
// @Tags 校验配置
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.ValidationConfig}
// @Failure 500 {object} APIResponse
// @Router /configs [get]
func (c *ConfigController) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := c.store.List(r.Context())
	if err != nil {
		render.JSON(w, r, InternalErrorResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", configs))
}

// UpdateConfig 更新校验配置
// @Summary 更新校验配置
// @Description 更新校验配置，变更在下一次调度运行生效
// @Tags 校验配置
// @Accept json
// @Produce json
// @Param id path string true "校验配置ID"
// @Param config body models.ValidationConfig true "更新信息"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /configs/{id} [put]
func (c *ConfigController) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		render.JSON(w, r, BadRequestResponse("ID参数不能为空", nil))
		return
	}

	var req models.ValidationConfig
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数格式错误", nil))
		return
	}
	req.ID = id

	if err := c.store.Update(r.Context(), &req); err != nil {
		if errors.Is(err, storage.ErrConfigNotFound) {
			render.JSON(w, r, NotFoundResponse("校验配置不存在", nil))
			return
		}
		render.JSON(w, r, BadRequestResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("更新成功", nil))
}

// DeleteConfig 删除校验配置
// @Summary 删除校验配置
// @Description 删除校验配置及其调度
// @Tags 校验配置
// @Produce json
// @Param id path string true "校验配置ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /configs/{id} [delete]
func (c *ConfigController) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		render.JSON(w, r, BadRequestResponse("ID参数不能为空", nil))
		return
	}

	if err := c.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrConfigNotFound) {
			render.JSON(w, r, NotFoundResponse("校验配置不存在", nil))
			return
		}
		render.JSON(w, r, InternalErrorResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("删除成功", nil))
}
