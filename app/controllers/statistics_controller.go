package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pharmalink/pharmalink/internal/pkg/statistics"
)

// StatisticsController serves the admin dashboard figures.
type StatisticsController struct {
	stats *statistics.Service
}

// NewStatisticsController creates a new statistics controller
func NewStatisticsController(stats *statistics.Service) *StatisticsController {
	return &StatisticsController{stats: stats}
}

// HandleStats returns the billing statistics, cached for a few minutes.
func (sc *StatisticsController) HandleStats(c *fiber.Ctx) error {
	if c.QueryBool("refresh") {
		sc.stats.Invalidate(c.UserContext())
	}
	data, err := sc.stats.Get(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(data)
}
