package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/regscout/regscout/app/models"
	"github.com/regscout/regscout/internal/pkg/database"
	"github.com/regscout/regscout/internal/pkg/session"
	"github.com/regscout/regscout/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleAuthRegister creates a new account.
func HandleAuthRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	db := database.GetDB()
	if _, err := models.FindUserByEmail(db, req.Email); err == nil {
		return jsonError(c, fiber.StatusConflict, "email_taken", "an account with this email already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return jsonError(c, fiber.StatusInternalServerError, "register_failed", "could not create account")
	}

	user, err := models.CreateUser(db, req.Name, req.Email, req.Password)
	if err != nil {
		log.Printf("user registration failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "register_failed", "could not create account")
	}

	return c.Status(fiber.StatusCreated).JSON(user)
}

// HandleAuthLogin verifies credentials and establishes the session. This is
// the sign-in edge of the identity lifecycle: entitlement consumers pick the
// identity up from the session on their next fetch.
func HandleAuthLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	db := database.GetDB()
	user, err := models.FindUserByEmail(db, req.Email)
	if err != nil || !user.CheckPassword(req.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "email or password is wrong")
	}
	if user.Status != models.STATUS_ACTIVE {
		return jsonError(c, fiber.StatusForbidden, "account_disabled", "account is disabled")
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "session_failed", "could not establish session")
	}
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	if err := sess.Save(); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "session_failed", "could not establish session")
	}

	now := time.Now()
	user.LastLoginAt = &now
	_ = db.Model(user).Update("last_login_at", &now).Error

	return c.Status(fiber.StatusOK).JSON(user)
}

// HandleAuthLogout tears the session down. Sign-out immediately invalidates
// the identity every entitlement consumer keys on.
func HandleAuthLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		_ = sess.Destroy()
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleAuthMe returns the current session's user context.
func HandleAuthMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}
	return c.Status(fiber.StatusOK).JSON(userCtx)
}
