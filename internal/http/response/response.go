package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperr "github.com/yungbote/labreport-backend/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

var sentinelStatus = []struct {
	err    error
	status int
	code   string
}{
	{apperr.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperr.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{apperr.ErrConflict, http.StatusConflict, "conflict"},
}

func RespondError(c *gin.Context, status int, code string, err error) {
	env := ErrorEnvelope{Error: APIError{Message: "unknown error", Code: code}}
	if err != nil {
		env.Error.Message = err.Error()
	}
	c.AbortWithStatusJSON(status, env)
}

// RespondServiceError maps the shared error sentinels onto HTTP statuses.
// Anything unrecognized is recorded on the gin context and answered with a
// generic 500 carrying fallbackCode.
func RespondServiceError(c *gin.Context, fallbackCode string, err error) {
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			RespondError(c, s.status, s.code, err)
			return
		}
	}
	if err != nil {
		_ = c.Error(err)
	}
	RespondError(c, http.StatusInternalServerError, fallbackCode, errors.New("internal error"))
}

func RespondOK(c *gin.Context, payload any) { c.JSON(http.StatusOK, payload) }

func RespondAccepted(c *gin.Context, payload any) { c.JSON(http.StatusAccepted, payload) }
