package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/regscout/regscout/app/models"
	"github.com/regscout/regscout/internal/pkg/database"
	"github.com/regscout/regscout/internal/pkg/entitlements"
	"github.com/regscout/regscout/internal/pkg/usercontext"
)

type bookmarkRequest struct {
	RegulationID uint `json:"regulation_id" validate:"required"`
}

// requirePremium resolves the caller's entitlement and rejects free users.
// Store errors deny: a user we cannot verify gets the free tier.
func requirePremium(c *fiber.Ctx) (uint, error) {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ent, err := billingService.EntitlementForUser(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("entitlement fetch for user %d failed: %v", userCtx.UserID, err)
		ent = entitlements.None
	}
	if !entitlements.CanBookmark(ent) {
		return 0, jsonError(c, fiber.StatusForbidden, "premium_required",
			"bookmarks are a Premium feature - upgrade to save regulations")
	}
	return userCtx.UserID, nil
}

// HandleBookmarkList returns the caller's bookmarks with their regulations.
func HandleBookmarkList(c *fiber.Ctx) error {
	userID, err := requirePremium(c)
	if err != nil {
		return err
	}

	var bookmarks []models.Bookmark
	if err := database.GetDB().
		Preload("Regulation").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&bookmarks).Error; err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "bookmark_list_failed", "could not load bookmarks")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"bookmarks": bookmarks})
}

// HandleBookmarkCreate saves a regulation for the caller.
func HandleBookmarkCreate(c *fiber.Ctx) error {
	userID, err := requirePremium(c)
	if err != nil {
		return err
	}

	var req bookmarkRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	db := database.GetDB()
	var reg models.Regulation
	if err := db.First(&reg, req.RegulationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "regulation_not_found", "unknown regulation")
		}
		return jsonError(c, fiber.StatusInternalServerError, "bookmark_create_failed", "could not create bookmark")
	}

	bookmark := models.Bookmark{UserID: userID, RegulationID: reg.ID}
	if err := db.Create(&bookmark).Error; err != nil {
		// Unique index on (user_id, regulation_id) makes double-saves a conflict.
		return jsonError(c, fiber.StatusConflict, "already_bookmarked", "regulation is already bookmarked")
	}
	bookmark.Regulation = reg

	return c.Status(fiber.StatusCreated).JSON(bookmark)
}

// HandleBookmarkDelete removes one of the caller's bookmarks.
func HandleBookmarkDelete(c *fiber.Ctx) error {
	userID, err := requirePremium(c)
	if err != nil {
		return err
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "bookmark id must be a positive integer")
	}

	result := database.GetDB().
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Bookmark{})
	if result.Error != nil {
		return jsonError(c, fiber.StatusInternalServerError, "bookmark_delete_failed", "could not delete bookmark")
	}
	if result.RowsAffected == 0 {
		return jsonError(c, fiber.StatusNotFound, "bookmark_not_found", "no such bookmark")
	}

	return c.SendStatus(fiber.StatusNoContent)
}
