package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/server"
)

// TagListResponse is the body of /v2/{repo}/tags/list.
type TagListResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// GetTagsList lists the tags of a repository with keyset pagination.
func GetTagsList(c echo.Context, a *server.App, repo string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPull); !ok {
		return err
	}

	n, last, err := parsePageParams(c)
	if err != nil {
		return sendInvalidPagination(c, err)
	}

	fetch := n
	if fetch > 0 {
		fetch++
	}
	tags, err := a.Registry.ListTags(repo, fetch, last)
	if err != nil {
		return SendServiceError(c, err)
	}
	tags = pageOf(c, fmt.Sprintf("/v2/%s/tags/list", repo), n, tags)

	return c.JSON(http.StatusOK, TagListResponse{Name: repo, Tags: tags})
}
