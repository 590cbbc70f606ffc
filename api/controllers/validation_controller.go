/*
 * @module api/controllers/validation_controller
 * @description 校验运行API控制器，提供按需触发和运行历史查询
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow HTTP请求处理流程
 * @rules 触发碰撞返回活跃运行而非错误；运行记录只读
 * @dependencies validator-service/service, github.com/go-chi/render
 * @refs service/validation/orchestrator.go, service/storage/run_store.go
 */

package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"validator-service/service"
	"validator-service/service/storage"
	"validator-service/service/validation"
)

// ValidationController 校验运行控制器
type ValidationController struct {
	orchestrator *validation.Orchestrator
	runs         *storage.RunStore
}

// NewValidationController 创建校验运行控制器实例
func NewValidationController() *ValidationController {
	return &ValidationController{
		orchestrator: service.GlobalOrchestrator,
		runs:         service.GlobalRunStore,
	}
}

// TriggerValidation 按需触发校验
// @Summary 按需触发校验
// @Description 对指定配置立即触发一次校验运行，已有活跃运行时返回该运行
// @Tags 校验运行
// @Produce json
// @Param config_id path string true "校验配置ID"
// @Success 200 {object} APIResponse{data=models.ValidationRun}
// @Failure 404 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /validations/trigger/{config_id} [post]
func (c *ValidationController) TriggerValidation(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "config_id")
	if configID == "" {
		render.JSON(w, r, BadRequestResponse("config_id参数不能为空", nil))
		return
	}

	run, err := c.orchestrator.TriggerAsync(r.Context(), configID)
	if errors.Is(err, validation.ErrRunActive) {
		render.JSON(w, r, ConflictResponse("配置存在活跃运行，本次触发被合并", run))
		return
	}
	if errors.Is(err, storage.ErrConfigNotFound) {
		render.JSON(w, r, NotFoundResponse("校验配置不存在", nil))
		return
	}
	if errors.Is(err, validation.ErrConfigDisabled) {
		render.JSON(w, r, BadRequestResponse("校验配置已禁用", run))
		return
	}
	if err != nil {
		render.JSON(w, r, InternalErrorResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("校验已触发", run))
}

// GetRun 获取运行详情
// @Summary 获取运行详情
// @Description 根据运行ID获取校验运行的完整结果
// @Tags 校验运行
// @Produce json
// @Param run_id path string true "运行ID"
// @Success 200 {object} APIResponse{data=models.ValidationRun}
// @Failure 404 {object} APIResponse
// @Router /validations/{run_id} [get]
func (c *ValidationController) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		render.JSON(w, r, BadRequestResponse("run_id参数不能为空", nil))
		return
	}

	run, err := c.runs.Get(r.Context(), runID)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("校验运行不存在", nil))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", run))
}

// ListRuns 查询运行历史
// @Summary 查询运行历史
// @Description 按配置ID查询校验运行历史，时间倒序
// @Tags 校验运行
// @Produce json
// @Param config_id query string true "校验配置ID"
// @Param limit query int false "返回条数上限，缺省50"
// @Success 200 {object} APIResponse{data=[]models.ValidationRun}
// @Failure 400 {object} APIResponse
// @Router /validations [get]
func (c *ValidationController) ListRuns(w http.ResponseWriter, r *http.Request) {
	configID := r.URL.Query().Get("config_id")
	if configID == "" {
		render.JSON(w, r, BadRequestResponse("config_id参数不能为空", nil))
		return
	}

	limit := 0
	if val := r.URL.Query().Get("limit"); val != "" {
		limit, _ = strconv.Atoi(val)
	}

	runs, err := c.runs.ListByConfig(r.Context(), configID, limit)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse(err.Error(), nil))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", runs))
}

// GetRunAnomalies 获取运行异常列表
// @Summary 获取运行异常列表
// @Description 获取指定运行检出的全部异常，Critical 在前
// @Tags 校验运行
// @Produce json
// @Param run_id path string true "运行ID"
// @Success 200 {object} APIResponse{data=[]models.Anomaly}
// @Failure 404 {object} APIResponse
// @Router /validations/{run_id}/anomalies [get]
func (c *ValidationController) GetRunAnomalies(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		render.JSON(w, r, BadRequestResponse("run_id参数不能为空", nil))
		return
	}

	run, err := c.runs.Get(r.Context(), runID)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("校验运行不存在", nil))
		return
	}

	render.JSON(w, r, SuccessResponse("查询成功", run.Anomalies))
}
