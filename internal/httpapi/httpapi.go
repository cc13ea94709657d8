// Package httpapi wires the bit-compatible HTTP surface onto gin,
// grounded on the teacher's handlers package (c.FormFile/c.PostForm
// request parsing, c.String/c.JSON responses, log.Printf error
// reporting) but replacing its encrypted-blob file API with the
// manifest/chunk/config surface this spec defines.
package httpapi

import (
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"gamevault/internal/authsrv"
	"gamevault/internal/ingest"
	"gamevault/internal/model"
	"gamevault/internal/packager"
	"gamevault/internal/queue"
)

// Server holds every dependency the HTTP surface needs. Assembled by
// cmd/server; there is no package-level state.
type Server struct {
	BaseDir    string
	Users      *authsrv.Store
	Queue      *queue.Queue
	SignSecret []byte // HMAC key for short-lived signed download links
}

// Register mounts every route from the spec's HTTP surface onto router.
func (s *Server) Register(router *gin.Engine) {
	router.POST("/register", s.handleRegister)
	router.GET("/dlink/download", s.handleSignedDownload)

	authorized := router.Group("/")
	authorized.Use(authsrv.Authorize(s.Users))
	{
		authorized.GET("/", s.handlePing)
		authorized.GET("/games", s.handleListGames)
		authorized.GET("/games/:id/download/manifest.json", s.handleDownloadManifest)
		authorized.GET("/games/:id/download/config.yaml", s.handleDownloadConfig)
		authorized.GET("/games/:id/downloadchunk/:chunk_index", s.handleDownloadChunk)
		authorized.POST("/upload", s.handleUpload)
		authorized.POST("/download", s.handleDownloadJob)
		authorized.DELETE("/games/:id", s.handleDeleteGame)
		authorized.POST("/games/:id/config", s.handleReplaceConfig)
		authorized.GET("/processes/data", s.handleProcessesData)
		authorized.GET("/account/games", s.handleAccountGames)
		authorized.POST("/account/password", s.handleAccountPassword)
		authorized.POST("/account/delete", s.handleAccountDelete)
		authorized.GET("/dlink/generate", s.handleGenerateSignedLink)
	}
}

// handleGenerateSignedLink mints a short-lived signed URL for a
// published resource (a chunk, manifest, or config file), so a client
// can hand the link to another process or a download manager without
// sharing its long-lived API key.
func (s *Server) handleGenerateSignedLink(c *gin.Context) {
	resourcePath := c.Query("path")
	if resourcePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing path"})
		return
	}
	username := c.GetString("username")
	exp := time.Now().Add(30 * time.Second)
	sig := authsrv.SignDownloadLink(s.SignSecret, resourcePath, username, exp)
	query := url.Values{
		"path": {resourcePath},
		"u":    {username},
		"exp":  {strconv.FormatInt(exp.Unix(), 10)},
		"sig":  {sig},
	}
	c.JSON(http.StatusOK, gin.H{"url": "/dlink/download?" + query.Encode()})
}

// handleSignedDownload serves a published file named by a signed link,
// without requiring the caller's API key. resourcePath is restricted
// to games/<id>/... so a forged path cannot read arbitrary server
// files.
func (s *Server) handleSignedDownload(c *gin.Context) {
	resourcePath := c.Query("path")
	username := c.Query("u")
	expUnix, err := strconv.ParseInt(c.Query("exp"), 10, 64)
	if resourcePath == "" || username == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed signed link"})
		return
	}
	exp := time.Unix(expUnix, 0)
	sig := c.Query("sig")
	if !authsrv.VerifyDownloadLink(s.SignSecret, resourcePath, username, exp, sig) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired link"})
		return
	}

	cleaned := filepath.Clean("/" + resourcePath)
	if !strings.HasPrefix(cleaned, "/games/") {
		c.JSON(http.StatusForbidden, gin.H{"error": "path outside games directory"})
		return
	}
	full := filepath.Join(s.BaseDir, cleaned)
	if _, err := os.Stat(full); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	c.File(full)
}

func (s *Server) handleRegister(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	key, err := s.Users.Register(body.Username, body.Password)
	if err == authsrv.ErrUserExists {
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
		return
	}
	if err != nil {
		log.Printf("register %s: %v", body.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "api_key": key})
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": c.GetString("username")})
}

func (s *Server) handleListGames(c *gin.Context) {
	entries, err := os.ReadDir(filepath.Join(s.BaseDir, "games"))
	if err != nil && !os.IsNotExist(err) {
		log.Printf("list games: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list games"})
		return
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	c.JSON(http.StatusOK, gin.H{"games": ids})
}

func (s *Server) handleDownloadManifest(c *gin.Context) {
	id := c.Param("id")
	path := filepath.Join(s.BaseDir, "games", id, "manifest.json")
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game"})
		return
	}
	c.File(path)
}

func (s *Server) handleDownloadConfig(c *gin.Context) {
	id := c.Param("id")
	path := filepath.Join(s.BaseDir, "games", id, "config.yaml")
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game"})
		return
	}
	c.File(path)
}

func (s *Server) handleDownloadChunk(c *gin.Context) {
	id := c.Param("id")
	idxParam := c.Param("chunk_index")

	m, err := packager.LoadManifest(filepath.Join(s.BaseDir, "games", id, "manifest.json"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game"})
		return
	}
	for _, chunk := range m.Chunks {
		if strconv.Itoa(chunk.ChunkIndex) == idxParam {
			c.FileAttachment(filepath.Join(s.BaseDir, "games", id, "chunks", chunk.Name), chunk.Name)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown chunk index"})
}

func (s *Server) handleUpload(c *gin.Context) {
	configText := c.PostForm("config")
	if configText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing config"})
		return
	}
	var cfg model.GameConfig
	if err := yaml.Unmarshal([]byte(configText), &cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed config"})
		return
	}
	cfg.User = c.GetString("username")

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	paths := ingest.NewPaths(s.BaseDir, cfg.ID)
	if err := os.MkdirAll(paths.WorkDir, 0755); err != nil {
		log.Printf("upload %s: %v", cfg.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not stage upload"})
		return
	}
	if err := c.SaveUploadedFile(fh, filepath.Join(paths.WorkDir, "data.zip")); err != nil {
		log.Printf("upload %s: %v", cfg.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save upload"})
		return
	}
	if err := writeQueuedConfig(paths.ProcessDir, cfg); err != nil {
		log.Printf("upload %s: %v", cfg.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist config"})
		return
	}
	if err := s.Queue.Enqueue(cfg.ID, ""); err != nil {
		log.Printf("upload %s: %v", cfg.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue job"})
		return
	}
	if err := s.Queue.SetDownloadProgress(cfg.ID, 1.0); err != nil {
		log.Printf("upload %s: %v", cfg.ID, err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

func (s *Server) handleDownloadJob(c *gin.Context) {
	configText := c.PostForm("config")
	if configText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing config"})
		return
	}
	var cfg model.GameConfig
	if err := yaml.Unmarshal([]byte(configText), &cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed config"})
		return
	}
	if cfg.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "config missing url"})
		return
	}
	cfg.User = c.GetString("username")

	paths := ingest.NewPaths(s.BaseDir, cfg.ID)
	if err := writeQueuedConfig(paths.ProcessDir, cfg); err != nil {
		log.Printf("download job %s: %v", cfg.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist config"})
		return
	}
	if err := s.Queue.Enqueue(cfg.ID, cfg.URL); err != nil {
		log.Printf("download job %s: %v", cfg.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

func (s *Server) handleDeleteGame(c *gin.Context) {
	id := c.Param("id")
	if err := os.RemoveAll(filepath.Join(s.BaseDir, "games", id)); err != nil {
		log.Printf("delete game %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove game"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (s *Server) handleReplaceConfig(c *gin.Context) {
	id := c.Param("id")
	configText := c.PostForm("config")
	if configText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing config"})
		return
	}
	path := filepath.Join(s.BaseDir, "games", id, "config.yaml")
	if err := os.WriteFile(path, []byte(configText), 0644); err != nil {
		log.Printf("replace config %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not write config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleProcessesData(c *gin.Context) {
	entries, err := s.Queue.Snapshot()
	if err != nil {
		log.Printf("processes snapshot: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": entries})
}

func (s *Server) handleAccountGames(c *gin.Context) {
	username := c.GetString("username")
	root := filepath.Join(s.BaseDir, "games")
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		log.Printf("account games: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list games"})
		return
	}

	type ownedGame struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	var owned []ownedGame
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := packager.LoadManifest(filepath.Join(root, e.Name(), "manifest.json"))
		if err != nil {
			continue
		}
		cfg, err := loadGameConfig(filepath.Join(root, e.Name(), "config.yaml"))
		if err != nil || cfg.User != username {
			continue
		}
		owned = append(owned, ownedGame{ID: e.Name(), Name: m.Name})
	}
	c.JSON(http.StatusOK, gin.H{"games": owned})
}

func (s *Server) handleAccountPassword(c *gin.Context) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	key, err := s.Users.ChangePassword(c.GetString("username"), body.CurrentPassword, body.NewPassword)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "could not rotate key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "api_key": key})
}

func (s *Server) handleAccountDelete(c *gin.Context) {
	var body struct {
		CurrentPassword string `json:"current_password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if err := s.Users.Delete(c.GetString("username"), body.CurrentPassword); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "could not delete account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeQueuedConfig(processDir string, cfg model.GameConfig) error {
	if err := os.MkdirAll(processDir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(processDir, "config.yaml"), data, 0644)
}

func loadGameConfig(path string) (model.GameConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.GameConfig{}, err
	}
	var cfg model.GameConfig
	err = yaml.Unmarshal(data, &cfg)
	return cfg, err
}
