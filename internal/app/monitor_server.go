package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"cycletrader/internal/cycle"
	"cycletrader/internal/recorder"
)

// startMonitorServer 暴露运维接口：查询周期记录、手动触发周期。
// 手动触发与定时触发走同一互斥入口，上个周期没跑完会立即返回 skipped。
func startMonitorServer(ctx context.Context, orch *cycle.Orchestrator, rec *recorder.Recorder, port int, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/cycles", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		limit := 50
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				limit = v
			}
		}
		status := strings.ToLower(strings.TrimSpace(q.Get("status")))

		records, err := rec.List(r.Context(), recorder.Query{Status: status, Limit: limit})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records, logger)
	})

	mux.HandleFunc("/cycles/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/cycles/")
		if id == "" {
			http.Error(w, "missing cycle id", http.StatusBadRequest)
			return
		}
		record, err := rec.Get(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, record, logger)
	})

	mux.HandleFunc("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		// 手动周期不跟随请求取消：请求方断开后周期照常跑完。
		record := orch.RunCycle(ctx)
		writeJSON(w, map[string]string{
			"cycle_id": record.ID,
			"status":   string(record.Status),
			"error":    record.Error,
		}, logger)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入监控响应失败", zap.Error(err))
	}
}
