package handlers

import (
	"plane-wars-server/middleware"
	"plane-wars-server/services"
	"plane-wars-server/utils"

	"github.com/gofiber/fiber/v2"
)

// SetupRoomRoutes wires the administrative HTTP surface of the room
// coordinator. The realtime protocol carries the same operations over
// the socket; both paths converge on the same services.
func SetupRoomRoutes(app *fiber.App, auth *services.AuthService,
	rooms *services.RoomService, reconnect *services.ReconnectService, cache *services.RoomCache) {

	// Public listing, soft auth: works with or without a token.
	app.Get("/rooms", middleware.OptionalAuth(auth), func(c *fiber.Ctx) error {
		page := c.QueryInt("page", 1)
		pageSize := c.QueryInt("page_size", 10)
		list, total, err := rooms.ListWaitingRooms(page, pageSize)
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "waiting rooms", fiber.Map{
			"rooms": list,
			"total": total,
			"page":  page,
		})
	})

	authRequired := middleware.AuthMiddleware(auth)

	app.Post("/rooms", authRequired, func(c *fiber.Ctx) error {
		var req services.CreateRoomRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.Fail(c, utils.NewCodedError(utils.CodeValidation, "invalid request body"))
		}
		detail, err := rooms.CreateRoom(middleware.UserID(c), req)
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.Created(c, "room created", detail)
	})

	app.Get("/rooms/:id", authRequired, func(c *fiber.Ctx) error {
		detail, err := rooms.GetRoomDetail(c.Context(), c.Params("id"))
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "room detail", detail)
	})

	app.Post("/rooms/:id/join", authRequired, func(c *fiber.Ctx) error {
		var req struct {
			Password string `json:"password"`
		}
		_ = c.BodyParser(&req) // password is optional for public rooms
		detail, err := rooms.JoinRoom(middleware.UserID(c), c.Params("id"), req.Password, "")
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "joined room", detail)
	})

	app.Post("/rooms/:id/leave", authRequired, func(c *fiber.Ctx) error {
		if err := rooms.LeaveRoom(middleware.UserID(c), c.Params("id")); err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "left room", nil)
	})

	app.Delete("/rooms/:id", authRequired, func(c *fiber.Ctx) error {
		if err := rooms.DissolveRoom(c.Params("id"), middleware.UserID(c)); err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "room dissolved", nil)
	})

	app.Post("/rooms/:id/kick", authRequired, func(c *fiber.Ctx) error {
		var req struct {
			TargetUserID string `json:"target_user_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.TargetUserID == "" {
			return utils.Fail(c, utils.NewCodedError(utils.CodeValidation, "target_user_id is required"))
		}
		if err := rooms.KickPlayer(c.Params("id"), middleware.UserID(c), req.TargetUserID); err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "player kicked", nil)
	})

	app.Post("/rooms/:id/ready", authRequired, func(c *fiber.Ctx) error {
		var req struct {
			IsReady bool `json:"is_ready"`
		}
		if err := c.BodyParser(&req); err != nil {
			return utils.Fail(c, utils.NewCodedError(utils.CodeValidation, "invalid request body"))
		}
		detail, matchStarted, err := rooms.SetReady(c.Params("id"), middleware.UserID(c), req.IsReady)
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "ready state updated", fiber.Map{
			"room":          detail,
			"match_started": matchStarted,
		})
	})

	app.Get("/reconnect", authRequired, func(c *fiber.Ctx) error {
		info, err := reconnect.CheckReconnect(c.Context(), middleware.UserID(c))
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "reconnect state", info)
	})

	app.Get("/stats", authRequired, func(c *fiber.Ctx) error {
		sessions, err := cache.CountActiveSessions(c.Context())
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "stats", fiber.Map{
			"active_sessions": sessions,
		})
	})
}
