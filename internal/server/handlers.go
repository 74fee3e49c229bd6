package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"schedsrv/internal/apperr"
	"schedsrv/internal/journal"
	"schedsrv/internal/schedule"
)

const (
	headerAllowOrigin  = "Access-Control-Allow-Origin"
	headerAllowMethods = "Access-Control-Allow-Methods"
	headerAllowHeaders = "Access-Control-Allow-Headers"
)

// handleOptions はCORSプリフライトに応答する
func (s *Server) handleOptions(c *gin.Context) {
	c.Header(headerAllowOrigin, "*")
	c.Header(headerAllowMethods, "GET, POST, OPTIONS")
	c.Header(headerAllowHeaders, "Content-Type")
	c.Status(http.StatusOK)
}

// handleStatic はドキュメントルートのHTML/JS/JSONを返す
func (s *Server) handleStatic(c *gin.Context) {
	asset, err := s.assets.Open(c.Request.URL.Path)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind != apperr.NotFound {
			log.Printf("❌ Error reading file (%s): %v", kind, err)
		}
		c.String(kind.Status(), err.Error())
		return
	}

	if asset.CORS {
		c.Header(headerAllowOrigin, "*")
	}
	c.Data(http.StatusOK, asset.ContentType, asset.Body)
}

// handleSave はスケジュール文書を保存する
func (s *Server) handleSave(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.saveFailed(c, err)
		return
	}

	req, err := schedule.ParseSaveRequest(body)
	if err != nil {
		s.saveFailed(c, err)
		return
	}

	result, err := s.store.Save(req)
	if err != nil {
		if apperr.KindOf(err) == apperr.InvalidPath {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		s.saveFailed(c, err)
		return
	}

	s.record(c, result)

	c.Header(headerAllowOrigin, "*")
	c.JSON(http.StatusOK, result)
}

// handleNoRoute は未定義のルートに応答する
func (s *Server) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		c.String(http.StatusNotFound, "Endpoint not found")
		return
	}
	c.String(http.StatusNotImplemented, fmt.Sprintf("Unsupported method ('%s')", c.Request.Method))
}

// saveFailed は保存エラーを記録し、エラー内容をそのまま返す
// 不正なパス以外の失敗は種類にかかわらず 500 とする
func (s *Server) saveFailed(c *gin.Context, err error) {
	log.Printf("❌ Error saving file (%s): %v", apperr.KindOf(err), err)
	c.String(http.StatusInternalServerError, "Error saving file: "+err.Error())
}

// record は保存履歴を追記する。失敗しても保存自体は成功として扱う
func (s *Server) record(c *gin.Context, result *schedule.SaveResult) {
	if s.journal == nil {
		return
	}
	_, err := s.journal.Record(journal.Entry{
		Filepath:   result.Filepath,
		BackupPath: result.BackupPath,
		Sessions:   result.Sessions,
		Bytes:      result.Bytes,
		RequestID:  c.GetString(keyRequestID),
	})
	if err != nil {
		log.Printf("⚠️ Failed to record save: %v", err)
	}
}
