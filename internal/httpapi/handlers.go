package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"orangeclock/internal/alarm"
	"orangeclock/internal/audio"
	"orangeclock/internal/control"
	"orangeclock/internal/store"
	"orangeclock/pkg/logx"
)

func (s *Server) createAlarm(c *gin.Context) {
	var req control.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	v, err := s.ctl.Create(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *Server) listAlarms(c *gin.Context) {
	views, err := s.ctl.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alarms": views})
}

func (s *Server) upcomingAlarms(c *gin.Context) {
	// Optional ?horizon=4h overrides the configured window. Absent or
	// unparseable values fall back to the default rather than erroring.
	var horizon time.Duration
	if raw := c.Query("horizon"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			horizon = d
		}
	}
	ups, err := s.ctl.Upcoming(c.Request.Context(), horizon)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upcoming": ups})
}

func (s *Server) getAlarm(c *gin.Context) {
	id, ok := alarmID(c)
	if !ok {
		return
	}
	v, err := s.ctl.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) editAlarm(c *gin.Context) {
	id, ok := alarmID(c)
	if !ok {
		return
	}
	var req control.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	v, err := s.ctl.Edit(c.Request.Context(), id, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) deleteAlarm(c *gin.Context) {
	id, ok := alarmID(c)
	if !ok {
		return
	}
	if err := s.ctl.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) listAudio(c *gin.Context) {
	clips, err := s.clips.List()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audio": clips})
}

func (s *Server) uploadAudio(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer f.Close()

	info, err := s.clips.Save(fileHeader.Filename, f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) streamAudio(c *gin.Context) {
	f, info, err := s.clips.Open(c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", `inline; filename="`+info.Name+`"`)
	c.DataFromReader(http.StatusOK, info.Size, "application/octet-stream", f, nil)
}

func (s *Server) renameAudio(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing new name"})
		return
	}
	if err := s.clips.Rename(c.Param("name"), body.Name); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"renamed": body.Name})
}

func (s *Server) deleteAudio(c *gin.Context) {
	name := c.Param("name")
	if err := s.clips.Delete(name); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.status != nil {
		resp["scheduler"] = s.status()
	}
	c.JSON(http.StatusOK, resp)
}

func alarmID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alarm id"})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, alarm.ErrConflict), errors.Is(err, audio.ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, audio.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, alarm.ErrInvalidRule),
		errors.Is(err, control.ErrUnknownAudio),
		errors.Is(err, audio.ErrUnsupportedFormat),
		errors.Is(err, audio.ErrBadName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, io.EOF):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
	default:
		s.log.Error("request failed",
			logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
