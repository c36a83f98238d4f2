package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/connecthub/internal/config"
	"github.com/geocoder89/connecthub/internal/domain/user"
	"github.com/geocoder89/connecthub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type UserManager interface {
	CreateUser(ctx context.Context, caller user.User, req user.CreateUserRequest) (user.Public, error)
	Me(caller user.User) user.Public
	ListUsers(ctx context.Context, caller user.User) ([]user.Public, error)
	DeleteUser(ctx context.Context, caller user.User, email string) error
	ChangePassword(ctx context.Context, caller user.User, oldPassword, newPassword string) error
}

type UsersHandler struct {
	users UserManager
}

func NewUsersHandler(users UserManager) *UsersHandler {
	return &UsersHandler{users: users}
}

// caller returns the identity set by RequireAuth. Routes are only mounted
// behind it, so a miss means the wiring is wrong.
func caller(ctx *gin.Context) (user.User, bool) {
	u, ok := middlewares.UserFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "Could not validate credentials")
		return user.User{}, false
	}
	return u, true
}

func (h *UsersHandler) Create(ctx *gin.Context) {
	me, ok := caller(ctx)
	if !ok {
		return
	}

	var req user.CreateUserRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	created, err := h.users.CreateUser(cctx, me, req)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, created)
}

func (h *UsersHandler) Me(ctx *gin.Context) {
	me, ok := caller(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, h.users.Me(me))
}

func (h *UsersHandler) List(ctx *gin.Context) {
	me, ok := caller(ctx)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	users, err := h.users.ListUsers(cctx, me)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, users)
}

func (h *UsersHandler) Delete(ctx *gin.Context) {
	me, ok := caller(ctx)
	if !ok {
		return
	}

	email := ctx.Param("email")
	if email == "" {
		RespondBadRequest(ctx, "email is required", nil)
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.users.DeleteUser(cctx, me, email); err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

func (h *UsersHandler) ChangePassword(ctx *gin.Context) {
	me, ok := caller(ctx)
	if !ok {
		return
	}

	var req user.ChangePasswordRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.users.ChangePassword(cctx, me, req.OldPassword, req.NewPassword); err != nil {
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Password updated successfully"})
}
