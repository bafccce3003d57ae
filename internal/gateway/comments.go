package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/tankwiki/internal/commenttree"
	"github.com/nao1215/tankwiki/internal/proxy"
	"github.com/nao1215/tankwiki/pkg/apperr"
	"github.com/nao1215/tankwiki/pkg/middleware"
	"github.com/nao1215/tankwiki/pkg/token"
)

// createCommentRequest はコメント投稿のリクエストボディ。
// 投稿者はセッショントークンのユーザーで、ボディでは指定できない。
type createCommentRequest struct {
	ParentCommentID *int64 `json:"parentCommentId"`
	TankID          *int64 `json:"tankId"`
	Content         string `json:"content" validate:"required,max=4000"`
}

// updateCommentRequest はコメント編集のリクエストボディ。
type updateCommentRequest struct {
	ID      int64  `json:"id" validate:"required,gt=0"`
	Content string `json:"content" validate:"required,max=4000"`
}

// downstreamComment はコメントサービスへ送るボディ。
type downstreamComment struct {
	ID              int64  `json:"id,omitempty"`
	ParentCommentID *int64 `json:"parentCommentId,omitempty"`
	UserID          int64  `json:"userId"`
	TankID          *int64 `json:"tankId,omitempty"`
	Content         string `json:"content"`
}

// handleListComments は車両のコメントをツリー構造で返すハンドラを返す。
func (s *Server) handleListComments() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			apperr.Write(c, apperr.ErrUnauthenticated)
			return
		}

		tree, err := s.orchestrator.Comments(requestContext(c), id, c.Param("alias"))
		if err != nil {
			apperr.Write(c, err)
			return
		}
		if tree == nil {
			tree = []*commenttree.Node{}
		}
		c.JSON(http.StatusOK, tree)
	}
}

// handleCreateComment はコメントの投稿をコメントサービスへ転送するハンドラを返す。
func (s *Server) handleCreateComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			apperr.Write(c, apperr.ErrUnauthenticated)
			return
		}

		var req createCommentRequest
		if err := s.validate.bind(c, &req); err != nil {
			apperr.Write(c, err)
			return
		}

		parent := req.ParentCommentID
		if parent == nil {
			root := s.rootMarker
			parent = &root
		}
		s.forwardComment(c, id, http.MethodPost, s.orchestrator.CommentsPath(c.Param("alias")), downstreamComment{
			ParentCommentID: parent,
			UserID:          id.UserID,
			TankID:          req.TankID,
			Content:         req.Content,
		})
	}
}

// handleUpdateComment はコメントの編集をコメントサービスへ転送するハンドラを返す。
func (s *Server) handleUpdateComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			apperr.Write(c, apperr.ErrUnauthenticated)
			return
		}

		var req updateCommentRequest
		if err := s.validate.bind(c, &req); err != nil {
			apperr.Write(c, err)
			return
		}

		s.forwardComment(c, id, http.MethodPut, s.orchestrator.CommentsPath(c.Param("alias")), downstreamComment{
			ID:      req.ID,
			UserID:  id.UserID,
			Content: req.Content,
		})
	}
}

// handleDeleteComment はコメントの削除をコメントサービスへ転送するハンドラを返す。
func (s *Server) handleDeleteComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.GetIdentity(c)
		if !ok {
			apperr.Write(c, apperr.ErrUnauthenticated)
			return
		}

		commentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || commentID <= 0 {
			apperr.Write(c, apperr.BadRequest("id_invalid"))
			return
		}

		resp, err := s.orchestrator.Forward(requestContext(c), id, proxy.Request{
			Target: proxy.TargetComments,
			Method: http.MethodDelete,
			Path:   s.orchestrator.CommentsPath(c.Param("alias"), strconv.FormatInt(commentID, 10)),
		})
		if err != nil {
			apperr.Write(c, err)
			return
		}
		relay(c, resp)
	}
}

// forwardComment はコメントのボディをJSONで下流へ転送する。
func (s *Server) forwardComment(c *gin.Context, id token.Identity, method, path string, body downstreamComment) {
	payload, err := json.Marshal(body)
	if err != nil {
		s.internalError(c, "gateway.forwardComment", err)
		return
	}

	resp, err := s.orchestrator.Forward(requestContext(c), id, proxy.Request{
		Target:      proxy.TargetComments,
		Method:      method,
		Path:        path,
		Body:        payload,
		ContentType: "application/json",
	})
	if err != nil {
		apperr.Write(c, err)
		return
	}
	relay(c, resp)
}
