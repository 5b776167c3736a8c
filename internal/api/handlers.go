package api

import (
	"errors"
	"net/http"

	"github.com/ziyic8/mp3/internal/model"
	"github.com/ziyic8/mp3/internal/pkg/doclock"
	"github.com/ziyic8/mp3/internal/pkg/metrics"
	"github.com/ziyic8/mp3/internal/query"
	"github.com/ziyic8/mp3/internal/store"
	"github.com/ziyic8/mp3/internal/validate"

	"github.com/gin-gonic/gin"
	"log/slog"
)

// respondError 将内部错误映射为统一的 {message} 错误体。
//
// 状态码即错误分类：404 未找到、400 校验/查询失败、
// 503 锁等待超时（可重试）、500 其他内部故障。
func (s *Server) respondError(c *gin.Context, err error) {
	var vErr *validate.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"message": vErr.Message})
	case errors.Is(err, query.ErrBadQuery):
		if metrics.QueryRejectedTotal != nil {
			metrics.QueryRejectedTotal.Inc()
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, doclock.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "document busy, retry later"})
	default:
		s.logger.Error("request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
	}
}

// handleList 处理集合查询。
//
// GET /api/{collection}?where=...&sort=...&select=...&count=...&skip=...&limit=...
func (s *Server) handleList(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := query.Parse(c.Request.URL.Query())
		if err != nil {
			s.respondError(c, err)
			return
		}

		entries, err := s.docs.Scan(c.Request.Context(), collection)
		if err != nil {
			s.respondError(c, err)
			return
		}
		docs := make([]model.Document, len(entries))
		for i, entry := range entries {
			docs[i] = entry.Doc
		}

		if q.Count {
			c.JSON(http.StatusOK, gin.H{"message": "OK", "data": q.CountMatching(docs)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "OK", "data": q.Execute(docs)})
	}
}

// handleGetOne 处理单文档读取，支持 select 投影。
//
// GET /api/{collection}/:id
func (s *Server) handleGetOne(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !store.ValidID(id) {
			c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
			return
		}

		q, err := query.Parse(c.Request.URL.Query())
		if err != nil {
			s.respondError(c, err)
			return
		}

		doc, err := s.docs.Get(c.Request.Context(), collection, id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "OK", "data": q.Project(doc)})
	}
}

// handleCreate 处理文档创建。
//
// POST /api/{collection}
func (s *Server) handleCreate(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var doc model.Document
		if err := c.ShouldBindJSON(&doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
			return
		}
		delete(doc, model.IDField) // 主键由服务端生成

		validate.ApplyDefaults(collection, doc)
		if err := validate.Collection(collection, doc); err != nil {
			s.respondError(c, err)
			return
		}

		var created model.Document
		var err error
		switch collection {
		case model.CollectionUsers:
			created, err = s.engine.CreateUser(c.Request.Context(), doc)
		default:
			created, err = s.engine.CreateTask(c.Request.Context(), doc)
		}
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Created", "data": created})
	}
}

// handleReplace 处理文档整体替换并触发关系同步。
//
// PUT /api/{collection}/:id
func (s *Server) handleReplace(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !store.ValidID(id) {
			c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
			return
		}

		var doc model.Document
		if err := c.ShouldBindJSON(&doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
			return
		}
		delete(doc, model.IDField) // 主键不可变，请求体中的值被忽略

		validate.ApplyDefaults(collection, doc)
		if err := validate.Collection(collection, doc); err != nil {
			s.respondError(c, err)
			return
		}

		var updated model.Document
		var err error
		switch collection {
		case model.CollectionUsers:
			updated, err = s.engine.UpdateUser(c.Request.Context(), id, doc)
		default:
			updated, err = s.engine.UpdateTask(c.Request.Context(), id, doc)
		}
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "OK", "data": updated})
	}
}

// handleDelete 处理文档删除并触发关系清理。
//
// DELETE /api/{collection}/:id
func (s *Server) handleDelete(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !store.ValidID(id) {
			c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
			return
		}

		var err error
		switch collection {
		case model.CollectionUsers:
			err = s.engine.DeleteUser(c.Request.Context(), id)
		default:
			err = s.engine.DeleteTask(c.Request.Context(), id)
		}
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
