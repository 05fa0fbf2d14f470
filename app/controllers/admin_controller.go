package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
)

// AdminController handles admin-related HTTP requests using repository pattern
type AdminController struct {
	repos      *repository.Repositories
	reconciler *billing.Reconciler
	cfg        billing.Config
	gate       *entitlements.Gate
	queue      QueueStats
	log        *zap.Logger
}

// NewAdminController creates a new admin controller with repository dependencies
func NewAdminController(s Services) *AdminController {
	return &AdminController{
		repos:      s.Repos,
		reconciler: s.Reconciler,
		cfg:        s.BillingConfig,
		gate:       s.Gate,
		queue:      s.QueueStats,
		log:        s.logger("admin"),
	}
}

func (ac *AdminController) handleError(c *fiber.Ctx, message string, err error) error {
	ac.log.Error(message, zap.Error(err))
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", message)
}

// HandleDashboard returns the dashboard counters
func (ac *AdminController) HandleDashboard(c *fiber.Ctx) error {
	totalUsers, err := ac.repos.User.Count()
	if err != nil {
		return ac.handleError(c, "Failed to get user count", err)
	}
	totalTopics, err := ac.repos.Topic.Count(repository.TopicFilter{IncludePremium: true})
	if err != nil {
		return ac.handleError(c, "Failed to get topic count", err)
	}
	freeTopics, err := ac.repos.Topic.Count(repository.TopicFilter{})
	if err != nil {
		return ac.handleError(c, "Failed to get topic count", err)
	}
	totalComments, err := ac.repos.Comment.Count()
	if err != nil {
		return ac.handleError(c, "Failed to get comment count", err)
	}
	recentUsers, err := ac.repos.User.List(repository.Page{Number: 1, PerPage: 5})
	if err != nil {
		return ac.handleError(c, "Failed to get recent users", err)
	}

	body := fiber.Map{
		"users":          totalUsers,
		"topics":         totalTopics,
		"premium_topics": totalTopics - freeTopics,
		"comments":       totalComments,
		"recent_users":   recentUsers,
		"billing":        fiber.Map{"enabled": ac.cfg.Enabled(), "one_time": ac.cfg.OneTime},
	}

	if ac.queue != nil {
		stats, err := ac.queue.GetJobStats(c.UserContext())
		if err != nil {
			ac.log.Warn("queue stats unavailable", zap.Error(err))
		} else {
			size, _ := ac.queue.GetQueueSize(c.UserContext())
			body["queue"] = fiber.Map{"pending": size, "stats": stats}
		}
	}
	return c.JSON(body)
}

// HandleUsers lists users, optionally filtered by ?q=
func (ac *AdminController) HandleUsers(c *fiber.Ctx) error {
	page := pageFromQuery(c)
	query := strings.TrimSpace(c.Query("q"))

	var (
		users []models.User
		err   error
	)
	if query != "" {
		users, err = ac.repos.User.Search(query, page)
	} else {
		users, err = ac.repos.User.List(page)
	}
	if err != nil {
		return ac.handleError(c, "Failed to get users", err)
	}
	total, err := ac.repos.User.Count()
	if err != nil {
		return ac.handleError(c, "Failed to get user count", err)
	}

	return c.JSON(fiber.Map{
		"users":       users,
		"query":       query,
		"page":        page.Number,
		"per_page":    page.PerPage,
		"total":       total,
		"total_pages": page.TotalPages(total),
	})
}

type adminRecordView struct {
	models.SubscriptionRecord
	AuthoritativeActive bool `json:"authoritative_active"`
}

// HandleSubscriptions lists every record of a user without pruning anything.
func (ac *AdminController) HandleSubscriptions(c *fiber.Ctx) error {
	userID, ok := paramID(c, "userId")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "invalid user id")
	}
	user, err := ac.repos.User.GetByID(userID)
	if err != nil {
		return notFoundOr500(c, err, "user")
	}

	ctx, cancel := requestContext(c, ac.cfg.RequestTimeout)
	defer cancel()

	records, err := ac.reconciler.Records(ctx, userID)
	if err != nil {
		return billingError(c, err)
	}
	now := time.Now()
	items := make([]adminRecordView, 0, len(records))
	for _, rec := range records {
		items = append(items, adminRecordView{
			SubscriptionRecord:  rec,
			AuthoritativeActive: entitlements.IsAuthoritativeActive(&rec, now),
		})
	}
	return c.JSON(fiber.Map{"user": user, "records": items})
}

// HandleReconcile re-reads the user's subscriptions from the processor and
// evaluates the entitlement, pruning duplicates.
func (ac *AdminController) HandleReconcile(c *fiber.Ctx) error {
	userID, ok := paramID(c, "userId")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "invalid user id")
	}
	if _, err := ac.repos.User.GetByID(userID); err != nil {
		return notFoundOr500(c, err, "user")
	}

	ctx, cancel := requestContext(c, 3*ac.cfg.RequestTimeout)
	defer cancel()

	records, err := ac.reconciler.Records(ctx, userID)
	if err != nil {
		return billingError(c, err)
	}

	syncErrors := fiber.Map{}
	if ac.cfg.Enabled() {
		seen := map[string]bool{}
		for _, rec := range records {
			ref := models.StringValue(rec.ExternalSubscriptionRef)
			if ref == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			if _, err := ac.reconciler.SyncSubscription(ctx, ref); err != nil {
				ac.log.Warn("admin sync failed", zap.Uint("user_id", userID), zap.String("subscription", ref), zap.Error(err))
				syncErrors[ref] = err.Error()
			}
		}
	}

	ent, err := ac.reconciler.EvaluateEntitlement(ctx, userID)
	if err != nil {
		return billingError(c, err)
	}
	ac.gate.Invalidate(ctx, userID)

	ac.log.Info("manual reconciliation", zap.Uint("user_id", userID), zap.Bool("entitled", ent.IsEntitled))
	return c.JSON(fiber.Map{
		"is_entitled": ent.IsEntitled,
		"record":      ent.Record,
		"sync_errors": syncErrors,
	})
}

// HandleTopicDelete soft deletes a topic with its comments.
func (ac *AdminController) HandleTopicDelete(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "invalid topic id")
	}
	if err := ac.repos.Topic.Delete(id); err != nil {
		return notFoundOr500(c, err, "topic")
	}
	ac.log.Info("topic deleted", zap.Uint("topic_id", id))
	return c.JSON(fiber.Map{"deleted": id})
}
