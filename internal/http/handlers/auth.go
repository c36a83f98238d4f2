package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/connecthub/internal/config"
	"github.com/geocoder89/connecthub/internal/domain/user"
	"github.com/geocoder89/connecthub/internal/service"
	"github.com/gin-gonic/gin"
)

type Authenticator interface {
	Login(ctx context.Context, username, password string) (service.LoginResult, error)
}

type AuthHandler struct {
	auth Authenticator
}

func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login implements the OAuth2 password grant: form or JSON username and
// password in, bearer token out.
func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !Bind(ctx, &req) {
		return
	}

	// bcrypt dominates; the lookup itself is short
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	res, err := h.auth.Login(cctx, req.Username, req.Password)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, res)
}
