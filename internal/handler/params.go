package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const maxIDLength = 128

// assessmentParam returns the :assessment_id path parameter. Ids end up in
// Redis keys and upstream paths, so separators are rejected.
func assessmentParam(c *gin.Context) (string, bool) {
	id := c.Param("assessment_id")
	if id == "" || len(id) > maxIDLength || strings.ContainsAny(id, "/:?# ") {
		return "", false
	}
	return id, true
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
