package http

import (
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

var apiStatusHandler = func(s Session) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, s.Status())
	}
}

var apiMetadataHandler = func(s Session) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		m := s.Metadata()
		if m == nil {
			ctx.JSON(http.StatusNotFound, Error{Error: "metadata not available yet"})
			return
		}
		ctx.JSON(http.StatusOK, m)
	}
}

var apiTrafficHandler = func(s Session) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ts := s.Traffic()
		if ts == nil {
			ctx.Status(http.StatusNoContent)
			return
		}
		ctx.JSON(http.StatusOK, ts)
	}
}

// apiStartHandler requests a start. Redundant requests are accepted and
// ignored by the controller.
var apiStartHandler = func(s Session) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := s.Start(); err != nil {
			_ = ctx.Error(err)
			ctx.JSON(http.StatusInternalServerError, Error{Error: err.Error()})
			return
		}
		ctx.JSON(http.StatusAccepted, s.Status())
	}
}

var apiPauseHandler = func(s Session) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		s.Pause(nil)
		ctx.JSON(http.StatusAccepted, s.Status())
	}
}

// logTail is how much of the log file /api/log returns.
const logTail = 64 << 10

// apiLogHandler serves the tail of the log file.
var apiLogHandler = func(path string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		f, err := os.Open(path)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		offset := -min(fi.Size(), logTail)
		if _, err := f.Seek(offset, io.SeekEnd); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		ctx.Header("Content-Type", "text/plain; charset=utf-8")
		ctx.Status(http.StatusOK)
		if _, err := io.Copy(ctx.Writer, f); err != nil {
			_ = ctx.Error(err)
		}
	}
}

var apiGetLimitsHandler = func(l Limiter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		dl, ul := l.Limits()
		ctx.JSON(http.StatusOK, limitsPayload{DownloadMbit: dl, UploadMbit: ul})
	}
}

var apiSetLimitsHandler = func(l Limiter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var body limitsPayload
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		if body.DownloadMbit < 0 || body.UploadMbit < 0 {
			ctx.JSON(http.StatusBadRequest, Error{Error: "limits must not be negative"})
			return
		}
		if err := l.SetLimits(body.DownloadMbit, body.UploadMbit); err != nil {
			_ = ctx.Error(err)
			ctx.JSON(http.StatusInternalServerError, Error{Error: err.Error()})
			return
		}

		dl, ul := l.Limits()
		ctx.JSON(http.StatusOK, limitsPayload{DownloadMbit: dl, UploadMbit: ul})
	}
}
