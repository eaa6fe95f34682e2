package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/regscout/regscout/app/models"
	"github.com/regscout/regscout/internal/pkg/database"
)

const searchResultLimit = 50

// HandleRegulationSearch searches regulations by number or title. An empty
// result set is a normal outcome, not an error.
func HandleRegulationSearch(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return jsonError(c, fiber.StatusBadRequest, "missing_query", "query parameter q is required")
	}

	regs, err := models.SearchRegulations(database.GetDB(), q, searchResultLimit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "search_failed", "could not search regulations")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"regulations": regs})
}

// HandleRegulationGet returns one regulation by id.
func HandleRegulationGet(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "regulation id must be a positive integer")
	}

	var reg models.Regulation
	if err := database.GetDB().First(&reg, id).Error; err != nil {
		return jsonError(c, fiber.StatusNotFound, "regulation_not_found", "unknown regulation")
	}

	return c.Status(fiber.StatusOK).JSON(reg)
}
