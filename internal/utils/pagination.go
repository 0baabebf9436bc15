package utils

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// PageQuery holds the raw page and limit query parameters. Zero means the
// parameter was absent and the service default applies.
type PageQuery struct {
	Page  int
	Limit int
}

// GetPageQuery reads page and limit from the query string. The upper bound on
// limit is left to the service.
func GetPageQuery(c *fiber.Ctx) (PageQuery, error) {
	var q PageQuery
	var err error
	if q.Page, err = queryInt(c, "page"); err != nil {
		return PageQuery{}, err
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		return PageQuery{}, err
	}
	return q, nil
}

func queryInt(c *fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be at least 1", name)
	}
	return n, nil
}
