package controllers

import "github.com/gofiber/fiber/v2"

// Adapter functions keep the router on plain handler funcs.

func HandleAuthLogin(c *fiber.Ctx) error   { return authController.HandleLogin(c) }
func HandleAuthLogout(c *fiber.Ctx) error  { return authController.HandleLogout(c) }
func HandleAuthSession(c *fiber.Ctx) error { return authController.HandleSession(c) }

func HandleTopicList(c *fiber.Ctx) error        { return topicController.HandleList(c) }
func HandleTopicShow(c *fiber.Ctx) error        { return topicController.HandleShow(c) }
func HandleTopicPremiumList(c *fiber.Ctx) error { return topicController.HandlePremiumList(c) }
func HandleTopicCreate(c *fiber.Ctx) error      { return topicController.HandleCreate(c) }
func HandleCommentCreate(c *fiber.Ctx) error    { return topicController.HandleComment(c) }
func HandleAcceptAnswer(c *fiber.Ctx) error     { return topicController.HandleAcceptAnswer(c) }
func HandleAttachmentUpload(c *fiber.Ctx) error { return topicController.HandleAttachmentUpload(c) }

func HandleUserAvatar(c *fiber.Ctx) error               { return userController.HandleAvatar(c) }
func HandleUserNotifications(c *fiber.Ctx) error        { return userController.HandleNotifications(c) }
func HandleUserNotificationRead(c *fiber.Ctx) error     { return userController.HandleNotificationRead(c) }
func HandleUserNotificationSettings(c *fiber.Ctx) error { return userController.HandleNotificationSettings(c) }

func HandleBillingStatus(c *fiber.Ctx) error    { return billingController.HandleStatus(c) }
func HandleBillingCheckout(c *fiber.Ctx) error  { return billingController.HandleCheckout(c) }
func HandleBillingSuccess(c *fiber.Ctx) error   { return billingController.HandleSuccess(c) }
func HandleBillingAutoRenew(c *fiber.Ctx) error { return billingController.HandleAutoRenew(c) }
func HandleBillingCancel(c *fiber.Ctx) error    { return billingController.HandleCancel(c) }
func HandleBillingPortal(c *fiber.Ctx) error    { return billingController.HandlePortal(c) }

func HandleStripeWebhook(c *fiber.Ctx) error { return webhookController.HandleStripe(c) }

func HandleAdminDashboard(c *fiber.Ctx) error     { return adminController.HandleDashboard(c) }
func HandleAdminUsers(c *fiber.Ctx) error         { return adminController.HandleUsers(c) }
func HandleAdminSubscriptions(c *fiber.Ctx) error { return adminController.HandleSubscriptions(c) }
func HandleAdminReconcile(c *fiber.Ctx) error     { return adminController.HandleReconcile(c) }
func HandleAdminTopicDelete(c *fiber.Ctx) error   { return adminController.HandleTopicDelete(c) }
