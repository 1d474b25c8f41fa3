package scheduler

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
)

// LivenessServer serves the GET / liveness endpoint of spec §6: 200 if the
// heartbeat file's timestamp is within the staleness window, 503
// otherwise. Started only when IPA_CONTAINERIZED is true.
type LivenessServer struct {
	HeartbeatFile string
	StalenessWindow time.Duration
	Log           *logger.Logger
}

func (l *LivenessServer) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		ts, ok := l.readHeartbeat()
		if !ok || time.Since(ts) > l.StalenessWindow {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func (l *LivenessServer) readHeartbeat() (time.Time, bool) {
	data, err := os.ReadFile(l.HeartbeatFile)
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
