package controllers

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ForumFox/internal/pkg/notify"
	"github.com/ManuelReschke/ForumFox/internal/pkg/storage"
	"github.com/ManuelReschke/ForumFox/internal/pkg/upload"
)

// authorView is the public part of a user.
type authorView struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type topicView struct {
	ID                uint        `json:"id"`
	Title             string      `json:"title"`
	Body              string      `json:"body,omitempty"`
	Category          string      `json:"category"`
	IsQuestion        bool        `json:"is_question"`
	IsPremium         bool        `json:"is_premium"`
	AcceptedCommentID *uint       `json:"accepted_comment_id,omitempty"`
	CommentCount      int         `json:"comment_count"`
	ViewCount         int         `json:"view_count"`
	Author            *authorView `json:"author,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

type commentView struct {
	ID        uint        `json:"id"`
	Content   string      `json:"content"`
	Accepted  bool        `json:"accepted"`
	Author    *authorView `json:"author,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func newAuthorView(u models.User) *authorView {
	if u.ID == 0 {
		return nil
	}
	return &authorView{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}

func newTopicView(t models.Topic, withBody bool) topicView {
	v := topicView{
		ID:                t.ID,
		Title:             t.Title,
		Category:          t.Category,
		IsQuestion:        t.IsQuestion,
		IsPremium:         t.IsPremium,
		AcceptedCommentID: t.AcceptedCommentID,
		CommentCount:      t.CommentCount,
		ViewCount:         t.ViewCount,
		Author:            newAuthorView(t.User),
		CreatedAt:         t.CreatedAt,
	}
	if withBody {
		v.Body = t.Body
	}
	return v
}

func newCommentView(cm models.Comment, accepted *uint) commentView {
	return commentView{
		ID:        cm.ID,
		Content:   cm.Content,
		Accepted:  accepted != nil && *accepted == cm.ID,
		Author:    newAuthorView(cm.User),
		CreatedAt: cm.CreatedAt,
	}
}

type topicForm struct {
	Title      string `json:"title" form:"title" validate:"required,min=3,max=200"`
	Body       string `json:"body" form:"body" validate:"required,max=50000"`
	Category   string `json:"category" form:"category"`
	IsQuestion bool   `json:"is_question" form:"is_question"`
	IsPremium  bool   `json:"is_premium" form:"is_premium"`
}

type commentForm struct {
	Content string `json:"content" form:"content" validate:"required,max=20000"`
}

// TopicController serves topics, comments, accepted answers and attachments.
type TopicController struct {
	repos          *repository.Repositories
	gate           *entitlements.Gate
	views          ViewCounter
	notifier       *notify.Notifier
	storage        storage.ObjectStore
	maxUploadBytes int64
	log            *zap.Logger
}

func NewTopicController(s Services) *TopicController {
	return &TopicController{
		repos:          s.Repos,
		gate:           s.Gate,
		views:          s.Views,
		notifier:       s.Notifier,
		storage:        s.Storage,
		maxUploadBytes: s.MaxUploadBytes,
		log:            s.logger("topics"),
	}
}

// premiumAllowed reports whether the current user may read premium topics.
func (tc *TopicController) premiumAllowed(c *fiber.Ctx) bool {
	uc := currentUser(c)
	if !uc.IsLoggedIn {
		return false
	}
	return tc.gate.Allowed(c.UserContext(), uc.UserID, uc.IsAdmin)
}

// readableTopic loads a topic and applies the premium gate. It writes the
// error response itself and returns nil in that case.
func (tc *TopicController) readableTopic(c *fiber.Ctx) (*models.Topic, error) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, jsonError(c, fiber.StatusBadRequest, "invalid_id", "invalid topic id")
	}
	topic, err := tc.repos.Topic.GetByID(id)
	if err != nil {
		return nil, notFoundOr500(c, err, "topic")
	}
	if topic.IsPremium && !tc.premiumAllowed(c) {
		if !currentUser(c).IsLoggedIn {
			return nil, jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
		}
		return nil, jsonError(c, fiber.StatusPaymentRequired, "subscription_required", "an active subscription is required")
	}
	return topic, nil
}

// HandleList lists topics newest first. Premium topics are listed for
// entitled users only.
func (tc *TopicController) HandleList(c *fiber.Ctx) error {
	return tc.list(c, repository.TopicFilter{
		Category:       strings.TrimSpace(c.Query("category")),
		QuestionsOnly:  truthy(c.Query("questions")),
		IncludePremium: tc.premiumAllowed(c),
	})
}

// HandlePremiumList lists premium topics only. The route is mounted behind
// the entitlement middleware.
func (tc *TopicController) HandlePremiumList(c *fiber.Ctx) error {
	return tc.list(c, repository.TopicFilter{
		Category:    strings.TrimSpace(c.Query("category")),
		PremiumOnly: true,
	})
}

func (tc *TopicController) list(c *fiber.Ctx, filter repository.TopicFilter) error {
	page := pageFromQuery(c)
	topics, err := tc.repos.Topic.List(filter, page)
	if err != nil {
		tc.log.Error("list topics failed", zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load topics")
	}
	total, err := tc.repos.Topic.Count(filter)
	if err != nil {
		tc.log.Error("count topics failed", zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load topics")
	}

	items := make([]topicView, 0, len(topics))
	for _, t := range topics {
		items = append(items, newTopicView(t, false))
	}
	return c.JSON(fiber.Map{
		"topics":      items,
		"page":        page.Number,
		"per_page":    page.PerPage,
		"total":       total,
		"total_pages": page.TotalPages(total),
	})
}

// HandleShow returns a topic with one page of comments and its attachments.
func (tc *TopicController) HandleShow(c *fiber.Ctx) error {
	topic, errResp := tc.readableTopic(c)
	if topic == nil {
		return errResp
	}

	if tc.views != nil {
		if err := tc.views.AddTopicView(c.UserContext(), topic.ID); err != nil {
			tc.log.Debug("view count failed", zap.Uint("topic_id", topic.ID), zap.Error(err))
		}
	}

	page := pageFromQuery(c)
	comments, err := tc.repos.Comment.ListByTopic(topic.ID, page)
	if err != nil {
		tc.log.Error("list comments failed", zap.Uint("topic_id", topic.ID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load comments")
	}
	attachments, err := tc.repos.Attachment.ListByTopic(topic.ID)
	if err != nil {
		tc.log.Error("list attachments failed", zap.Uint("topic_id", topic.ID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load attachments")
	}

	items := make([]commentView, 0, len(comments))
	for _, cm := range comments {
		items = append(items, newCommentView(cm, topic.AcceptedCommentID))
	}
	return c.JSON(fiber.Map{
		"topic":       newTopicView(*topic, true),
		"comments":    items,
		"attachments": attachments,
		"page":        page.Number,
		"per_page":    page.PerPage,
		"total_pages": page.TotalPages(int64(topic.CommentCount)),
	})
}

// HandleCreate opens a new topic. Only admins may publish premium topics.
func (tc *TopicController) HandleCreate(c *fiber.Ctx) error {
	uc := currentUser(c)

	var form topicForm
	if err := c.BodyParser(&form); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	form.Title = strings.TrimSpace(form.Title)
	form.Body = strings.TrimSpace(form.Body)
	if err := validate.Struct(form); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if form.IsPremium && !uc.IsAdmin {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "only admins can publish premium topics")
	}

	category := strings.ToLower(strings.TrimSpace(form.Category))
	if category == "" {
		category = models.CategoryGeneral
	}
	topic := &models.Topic{
		UserID:     uc.UserID,
		Title:      form.Title,
		Body:       form.Body,
		Category:   category,
		IsQuestion: form.IsQuestion,
		IsPremium:  form.IsPremium,
	}
	if err := topic.Validate(); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if err := tc.repos.Topic.Create(topic); err != nil {
		tc.log.Error("create topic failed", zap.Uint("user_id", uc.UserID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to create topic")
	}

	topic.User.ID = uc.UserID
	topic.User.Name = uc.Username
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"topic": newTopicView(*topic, true)})
}

// HandleComment adds a comment and notifies the topic author.
func (tc *TopicController) HandleComment(c *fiber.Ctx) error {
	topic, errResp := tc.readableTopic(c)
	if topic == nil {
		return errResp
	}
	uc := currentUser(c)

	var form commentForm
	if err := c.BodyParser(&form); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	form.Content = strings.TrimSpace(form.Content)
	if err := validate.Struct(form); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	comment := &models.Comment{TopicID: topic.ID, UserID: uc.UserID, Content: form.Content}
	if err := tc.repos.Comment.Create(comment); err != nil {
		tc.log.Error("create comment failed", zap.Uint("topic_id", topic.ID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to save comment")
	}

	if tc.notifier != nil {
		if err := tc.notifier.CommentAdded(c.UserContext(), topic, comment, uc.Username); err != nil {
			tc.log.Warn("comment notification failed", zap.Uint("topic_id", topic.ID), zap.Error(err))
		}
	}

	comment.User.ID = uc.UserID
	comment.User.Name = uc.Username
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"comment": newCommentView(*comment, nil)})
}

// HandleAcceptAnswer marks a comment as the answer of a question topic.
// Only the topic author or an admin may accept.
func (tc *TopicController) HandleAcceptAnswer(c *fiber.Ctx) error {
	topic, errResp := tc.readableTopic(c)
	if topic == nil {
		return errResp
	}
	uc := currentUser(c)
	if topic.UserID != uc.UserID && !uc.IsAdmin {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "only the topic author can accept an answer")
	}
	if !topic.IsQuestion {
		return jsonError(c, fiber.StatusConflict, "not_a_question", "answers can only be accepted on questions")
	}
	commentID, ok := paramID(c, "commentId")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "invalid comment id")
	}

	comment, err := tc.repos.Comment.GetByID(commentID)
	if err != nil {
		return notFoundOr500(c, err, "comment")
	}
	if err := tc.repos.Topic.AcceptAnswer(topic.ID, comment.ID); err != nil {
		if errors.Is(err, repository.ErrCommentNotInTopic) {
			return jsonError(c, fiber.StatusBadRequest, "comment_not_in_topic", err.Error())
		}
		tc.log.Error("accept answer failed", zap.Uint("topic_id", topic.ID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to accept answer")
	}
	topic.AcceptedCommentID = &comment.ID

	if tc.notifier != nil && comment.UserID != uc.UserID {
		if err := tc.notifier.AnswerAccepted(c.UserContext(), topic, comment); err != nil {
			tc.log.Warn("accept notification failed", zap.Uint("topic_id", topic.ID), zap.Error(err))
		}
	}
	return c.JSON(fiber.Map{"topic_id": topic.ID, "accepted_comment_id": comment.ID})
}

// HandleAttachmentUpload stores a file for a topic in object storage.
func (tc *TopicController) HandleAttachmentUpload(c *fiber.Ctx) error {
	topic, errResp := tc.readableTopic(c)
	if topic == nil {
		return errResp
	}
	uc := currentUser(c)
	if topic.UserID != uc.UserID && !uc.IsAdmin {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "only the topic author can attach files")
	}
	if tc.storage == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "storage_unavailable", "file storage is not configured")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "missing_file", "no file uploaded")
	}
	if err := upload.CheckSize(fileHeader.Size, tc.maxUploadBytes); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_file", err.Error())
	}

	file, err := fileHeader.Open()
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_file", "file could not be read")
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := file.Read(head)
	contentType, err := upload.ValidateAttachmentBySniff(fileHeader.Filename, head[:n])
	if err != nil {
		return jsonError(c, fiber.StatusUnsupportedMediaType, "unsupported_type", err.Error())
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "file could not be read")
	}

	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	key := storage.AttachmentKey(topic.ID, fileHeader.Filename)
	obj, err := tc.storage.Put(ctx, key, file, fileHeader.Size, contentType)
	if err != nil {
		tc.log.Error("attachment upload failed", zap.String("key", key), zap.Error(err))
		return jsonError(c, fiber.StatusBadGateway, "storage_error", "file could not be stored")
	}

	attachment := &models.Attachment{
		TopicID:     topic.ID,
		UserID:      uc.UserID,
		ObjectKey:   obj.Key,
		PublicURL:   obj.PublicURL,
		FileName:    fileHeader.Filename,
		ContentType: contentType,
		Size:        fileHeader.Size,
	}
	if err := tc.repos.Attachment.Create(attachment); err != nil {
		tc.log.Error("save attachment failed", zap.String("key", key), zap.Error(err))
		if derr := tc.storage.Delete(ctx, key); derr != nil {
			tc.log.Warn("orphaned object", zap.String("key", key), zap.Error(derr))
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to save attachment")
	}

	tc.log.Info("attachment stored", zap.Uint("topic_id", topic.ID), zap.String("key", key), zap.Int64("size", fileHeader.Size))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attachment": attachment})
}
