package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"quorum/internal/apierror"
	"quorum/internal/middleware"
	"quorum/internal/utils"
)

const maxBodyBytes = 1 << 20

// pathID parses the :name path parameter. It writes a 400 and returns false
// when the value is not a positive integer.
func pathID(c *gin.Context, name string) (uint, bool) {
	id, ok := utils.ParseID(c.Param(name))
	if !ok {
		apierror.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// decodeStrict decodes a JSON body into dst and rejects unknown fields, so a
// patch can never carry a field it does not enumerate.
func decodeStrict(c *gin.Context, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		apierror.BadRequest(c, "unreadable body")
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierror.BadRequest(c, "malformed JSON: "+err.Error())
		return false
	}
	if dec.More() {
		apierror.BadRequest(c, "malformed JSON: trailing data")
		return false
	}
	return true
}

// decode binds a JSON body leniently.
func decode(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) || errors.Is(err, io.EOF) {
			apierror.BadRequest(c, "malformed JSON")
			return false
		}
		apierror.BadRequest(c, err.Error())
		return false
	}
	return true
}

// queryInt returns the integer query parameter name, or def when it is absent or invalid.
func queryInt(c *gin.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil {
		return v
	}
	return def
}

// viewerKey identifies the caller for view counting.
func viewerKey(c *gin.Context) string {
	return middleware.ByUser(c)
}
