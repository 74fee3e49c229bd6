package server

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"
	keyRequestID    = "request_id"
)

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()

	// パスはそのまま扱い、リダイレクトで補正しない
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false

	r.Use(requestID(), requestLogger(), gin.Recovery(), s.serialize())

	r.OPTIONS("/*path", s.handleOptions)
	r.GET("/*path", s.handleStatic)
	r.POST("/api/save-schedule", s.handleSave)
	r.NoRoute(s.handleNoRoute)

	return r
}

// serialize は同時に1リクエストだけを処理させる
// 本文の読み込み中もロックを保持するため、遅いクライアントは他のリクエストを待たせる
// バックアップと書き込みが他のリクエストと交錯しないよう、並行処理にはしない
func (s *Server) serialize() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.dispatchMu.Lock()
		defer s.dispatchMu.Unlock()
		c.Next()
	}
}

// requestID はリクエストIDを付与する。クライアントが送ってきた場合はそれを使う
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(keyRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// requestLogger はリクエストごとに1行ログを出力する
func requestLogger() gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: log.Writer(),
		Formatter: func(p gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s\" %d %s %v\n",
				p.ClientIP,
				p.TimeStamp.Format(time.DateTime),
				p.Method,
				p.Path,
				p.StatusCode,
				p.Latency.Round(time.Microsecond),
				p.Keys[keyRequestID],
			)
		},
	})
}
