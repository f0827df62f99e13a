package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nhatientri/Buckshot/internal/config"
	"github.com/nhatientri/Buckshot/internal/server"
	"github.com/nhatientri/Buckshot/internal/store"
	"github.com/nhatientri/Buckshot/internal/util"
)

// Server is the REST monitoring API server.
type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	game    *server.Server
	users   *store.UserStore
	replays *store.ReplayStore
	router  *gin.Engine
	httpSrv *http.Server
	auth    *AuthMiddleware
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, game *server.Server, users *store.UserStore, replays *store.ReplayStore) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		logger:  util.ComponentLogger("api"),
		game:    game,
		users:   users,
		replays: replays,
		auth:    NewAuthMiddleware(cfg),
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	security := s.cfg.GetApp().Security
	origins := security.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	limiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(limiter.Middleware())

	// Public endpoints, no auth required
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
	}

	// Monitoring endpoints, bearer token required
	monitor := router.Group("/api")
	monitor.Use(s.auth.RequireAuth())
	{
		monitor.GET("/status", s.handleStatus)
		monitor.GET("/players", s.handlePlayers)
		monitor.GET("/sessions", s.handleSessions)
		monitor.GET("/leaderboard", s.handleLeaderboard)
		monitor.GET("/history/:username", s.handleHistory)
		monitor.GET("/replays", s.handleReplays)
		monitor.GET("/replays/:name", s.handleReplayDownload)
		monitor.GET("/logs", s.handleLogs)
	}

	s.router = router
}

// Start starts the API server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srvCfg := s.cfg.GetServer()
	addr := fmt.Sprintf("%s:%d", srvCfg.BindAddress, srvCfg.APIPort)

	lc := server.ReuseAddrListenConfig()
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("API server shutdown error")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("API server listening")

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleServerInfo(c *gin.Context) {
	srvCfg := s.cfg.GetServer()
	c.JSON(http.StatusOK, gin.H{
		"name":      srvCfg.Name,
		"game_port": srvCfg.GamePort,
		"uptime":    s.game.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	stats := s.game.Stats()

	sysInfo := util.GetSystemInfo()
	cpuUsage, _ := util.GetCPUUsage()
	memUsage, _ := util.GetMemoryUsage()
	diskUsage, _ := util.GetDiskUsage(".")

	c.JSON(http.StatusOK, gin.H{
		"uptime":          s.game.Uptime().Round(time.Second).String(),
		"online_players":  len(stats.OnlinePlayers),
		"active_sessions": len(stats.ActiveSessions),
		"queue_depth":     stats.QueueDepth,
		"system":          sysInfo,
		"cpu_percent":     cpuUsage,
		"memory":          memUsage,
		"disk":            diskUsage,
	})
}

func (s *Server) handlePlayers(c *gin.Context) {
	stats := s.game.Stats()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(stats.OnlinePlayers),
		"players": stats.OnlinePlayers,
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	stats := s.game.Stats()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(stats.ActiveSessions),
		"sessions": stats.ActiveSessions,
	})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	entries, err := s.users.Leaderboard()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load leaderboard"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func (s *Server) handleHistory(c *gin.Context) {
	username := c.Param("username")
	exists, err := s.users.Exists(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	entries, err := s.users.History(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	type historyRow struct {
		Opponent   string `json:"opponent"`
		Result     string `json:"result"`
		EloChange  int32  `json:"elo_change"`
		PlayedAt   string `json:"played_at"`
		ReplayFile string `json:"replay_file,omitempty"`
	}
	rows := make([]historyRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, historyRow{
			Opponent:   e.Opponent,
			Result:     e.Result,
			EloChange:  e.EloChange,
			PlayedAt:   e.Timestamp,
			ReplayFile: e.ReplayFile,
		})
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "history": rows})
}

func (s *Server) handleReplays(c *gin.Context) {
	filter := c.Query("filter")
	names, err := s.replays.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list replays"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(names), "replays": names})
}

func (s *Server) handleReplayDownload(c *gin.Context) {
	name := filepath.Base(c.Param("name"))
	raw, err := s.replays.Raw(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "replay not found"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/octet-stream", raw)
}

func (s *Server) handleLogs(c *gin.Context) {
	logDir := s.cfg.GetApp().Logging.Directory
	entries, err := os.ReadDir(logDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read log directory"})
		return
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			files = append(files, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	if len(files) == 0 {
		c.JSON(http.StatusOK, gin.H{"lines": []string{}})
		return
	}

	data, err := os.ReadFile(filepath.Join(logDir, files[0]))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read log file"})
		return
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	const maxLines = 200
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	c.JSON(http.StatusOK, gin.H{"file": files[0], "lines": lines})
}
