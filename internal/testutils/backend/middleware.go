package backend

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/opst/modelsync/pkg/api/types/backend"
	apierr "github.com/opst/modelsync/pkg/api/types/errors"
	"github.com/opst/modelsync/pkg/auth"
)

const userKey = "user"

// identity checks the size of identity headers, and stores the user for responses.
func identity(useridHeader string, limits auth.Limits) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			user := req.Header.Get(useridHeader)
			size := auth.Size(req.Header.Get("Authorization"), user)

			switch limits.Judge(size) {
			case auth.TooLarge:
				c.Logger().Errorf("identity headers too large: %d bytes (threshold: %d)", size, limits.Error)
				return c.JSON(http.StatusRequestEntityTooLarge, backend.TokenTooLarge{
					Error: "JWT token too large",
					Message: fmt.Sprintf(
						"authentication token is too large (%d bytes). Please reduce group memberships or contact your administrator.",
						size,
					),
					Details: backend.TokenSizeDetail{Size: size, Threshold: limits.Error},
				})
			case auth.Large:
				c.Logger().Warnf("identity headers are large: %d bytes (threshold: %d)", size, limits.Warn)
			}

			c.Set(userKey, user)
			return next(c)
		}
	}
}

func userOf(c echo.Context) string {
	u, _ := c.Get(userKey).(string)
	return u
}

// faults makes requests to broken namespaces fail.
func (b *Backend) faults(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ns := c.Param("ns")
		if ns == "" {
			return next(c)
		}
		if code, ok := b.brokenStatus(ns); ok {
			return apierr.NewErrorMessage(code, fmt.Sprintf("namespace %s is unavailable", ns))
		}
		return next(c)
	}
}
