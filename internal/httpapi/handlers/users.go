package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/valmeras/chat-gateway/internal/auth"
	"github.com/valmeras/chat-gateway/internal/common"
	"github.com/valmeras/chat-gateway/internal/httpapi/middleware"
	"github.com/valmeras/chat-gateway/internal/models"
)

const tokenTTL = 24 * time.Hour

type createUserReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type userResp struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
	UseLocation        bool   `json:"use_location"`
}

func toUserResp(u models.User) userResp {
	email := ""
	if u.Email != nil {
		email = *u.Email
	}
	return userResp{
		ID:                 u.ID,
		Email:              email,
		CustomInstructions: u.CustomInstructions,
		UseLocation:        u.UseLocation,
	}
}

// CreateUser registers an account and returns a signed token so the
// client can start chatting immediately.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(), "email and password (min 8 chars) required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	id, err := common.NewULID()
	if err != nil {
		common.FailErr(c, err)
		return
	}

	user := models.User{ID: id, Email: &req.Email, PasswordHash: hash}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(), "email already registered")
			return
		}
		common.FailErr(c, err)
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"user": toUserResp(user), "token": token})
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(), "email and password required")
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("email = ?", req.Email).First(&user).Error
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		// Same answer for unknown email and wrong password.
		common.Fail(c, http.StatusUnauthorized, common.KindUnauthorized.BusinessCode(), "invalid email or password")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"user": toUserResp(user), "token": token})
}

func (h *Handler) Me(c *gin.Context) {
	uid := c.GetString(middleware.UserIDKey)

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, "id = ?", uid).Error; err != nil {
		common.Fail(c, http.StatusNotFound, common.KindNotFound.BusinessCode(), "user not found")
		return
	}
	common.OK(c, toUserResp(user))
}

type updateMeReq struct {
	CustomInstructions *string `json:"custom_instructions"`
	UseLocation        *bool   `json:"use_location"`
}

// UpdateMe stores the per-user prompt settings: custom instructions and
// the location-sharing preference.
func (h *Handler) UpdateMe(c *gin.Context) {
	uid := c.GetString(middleware.UserIDKey)

	var req updateMeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(), "invalid json")
		return
	}

	updates := map[string]any{}
	if req.CustomInstructions != nil {
		updates["custom_instructions"] = *req.CustomInstructions
	}
	if req.UseLocation != nil {
		updates["use_location"] = *req.UseLocation
	}
	if len(updates) == 0 {
		common.Fail(c, http.StatusBadRequest, common.KindBadRequest.BusinessCode(),
			"custom_instructions or use_location required")
		return
	}

	err := h.DB.WithContext(c.Request.Context()).
		Model(&models.User{}).Where("id = ?", uid).
		Updates(updates).Error
	if err != nil {
		common.FailErr(c, err)
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, "id = ?", uid).Error; err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, toUserResp(user))
}
