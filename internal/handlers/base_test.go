package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"quorum/internal/models"
	"quorum/internal/services"
)

func testContext(body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func TestDecodeStrict(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"known fields", `{"title":"x","status":"DRAFT"}`, true},
		{"empty object", `{}`, true},
		{"unknown field", `{"title":"x","viewCount":9}`, false},
		{"wrong type", `{"title":5}`, false},
		{"trailing data", `{"title":"x"} {"title":"y"}`, false},
		{"not json", `title=x`, false},
		{"empty body", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := testContext(tt.body)
			var patch services.PostPatch
			require.Equal(t, tt.ok, decodeStrict(c, &patch))
			if !tt.ok {
				require.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}

	c, _ := testContext(`{"title":"x","status":"DRAFT"}`)
	var patch services.PostPatch
	require.True(t, decodeStrict(c, &patch))
	require.Equal(t, "x", *patch.Title)
	require.Equal(t, models.PostDraft, *patch.Status)
	require.Nil(t, patch.Content)
	require.Nil(t, patch.Tags)
}

func TestPathID(t *testing.T) {
	c, w := testContext("")
	c.Params = gin.Params{{Key: "id", Value: "0"}}
	_, ok := pathID(c, "id")
	require.False(t, ok)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, _ = testContext("")
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	id, ok := pathID(c, "id")
	require.True(t, ok)
	require.Equal(t, uint(42), id)
}

func TestNewPostView(t *testing.T) {
	v := newPostView(&models.Post{ID: 1, UserID: 2, Title: "t", Content: "<b>x</b> *y*"})
	require.Equal(t, []string{}, v.Tags)
	require.Contains(t, v.ContentHTML, "<em>y</em>")
	require.Nil(t, v.UserVote)
}
