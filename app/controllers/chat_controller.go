package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/regscout/regscout/app/models"
	"github.com/regscout/regscout/internal/pkg/assistant"
	"github.com/regscout/regscout/internal/pkg/database"
	"github.com/regscout/regscout/internal/pkg/entitlements"
	"github.com/regscout/regscout/internal/pkg/quota"
	"github.com/regscout/regscout/internal/pkg/usercontext"
)

var assistantClient *assistant.Client

// InitializeChatController wires the assistant client used by chat routes.
func InitializeChatController(ai *assistant.Client) {
	assistantClient = ai
}

type chatRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
}

// HandleChatHistory returns the caller's transcript, oldest first.
func HandleChatHistory(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var messages []models.ChatMessage
	err := database.GetDB().
		Where("user_id = ?", userCtx.UserID).
		Order("created_at ASC").
		Limit(200).
		Find(&messages).Error
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "history_failed", "could not load chat history")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"messages": messages})
}

// HandleChatSend stores the prompt, runs it through the assistant and stores
// the reply. Free users are held to a daily quota; premium users are not.
func HandleChatSend(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	ent, err := billingService.EntitlementForUser(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("entitlement fetch for user %d failed: %v", userCtx.UserID, err)
		ent = entitlements.None
	}

	limit := entitlements.DailyChatLimit(ent)
	allowed, remaining, err := quota.Allow(ctx, userCtx.UserID, limit)
	if err != nil {
		log.Printf("chat quota check for user %d failed: %v", userCtx.UserID, err)
	}
	if !allowed {
		return jsonError(c, fiber.StatusTooManyRequests, "quota_exceeded",
			"daily message limit reached - upgrade to Premium for unlimited messages")
	}

	db := database.GetDB()
	userMsg := models.ChatMessage{
		ID:      uuid.NewString(),
		UserID:  userCtx.UserID,
		Content: req.Prompt,
		IsUser:  true,
	}
	if err := db.Create(&userMsg).Error; err != nil {
		refundQuota(ctx, userCtx.UserID, limit)
		return jsonError(c, fiber.StatusInternalServerError, "message_store_failed", "could not store message")
	}

	reply, err := assistantClient.Generate(ctx, req.Prompt)
	if err != nil {
		// The user got no reply; their quota unit goes back.
		log.Printf("assistant generate for user %d failed: %v", userCtx.UserID, err)
		refundQuota(ctx, userCtx.UserID, limit)
		return jsonError(c, fiber.StatusBadGateway, "assistant_failed", "assistant is unavailable, try again")
	}

	replyMsg := models.ChatMessage{
		ID:      uuid.NewString(),
		UserID:  userCtx.UserID,
		Content: reply,
	}
	if err := db.Create(&replyMsg).Error; err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "message_store_failed", "could not store reply")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"messages":  []models.ChatMessage{userMsg, replyMsg},
		"remaining": remaining,
	})
}

func refundQuota(ctx context.Context, userID uint, limit int) {
	if err := quota.Refund(ctx, userID, limit); err != nil {
		log.Printf("chat quota refund for user %d failed: %v", userID, err)
	}
}
