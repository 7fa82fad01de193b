package handlers

import (
	"plane-wars-server/services"
	"plane-wars-server/utils"

	"github.com/gofiber/fiber/v2"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func SetupAuthRoutes(app *fiber.App, auth *services.AuthService) {
	app.Post("/auth/register", func(c *fiber.Ctx) error {
		var req credentialsRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.Fail(c, utils.NewCodedError(utils.CodeValidation, "invalid request body"))
		}
		user, err := auth.Register(req.Username, req.Password)
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.Created(c, "registered", user.Public())
	})

	app.Post("/auth/login", func(c *fiber.Ctx) error {
		var req credentialsRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.Fail(c, utils.NewCodedError(utils.CodeValidation, "invalid request body"))
		}
		token, user, err := auth.Login(req.Username, req.Password)
		if err != nil {
			return utils.Fail(c, err)
		}
		return utils.OK(c, "logged in", fiber.Map{
			"token": token,
			"user":  user.Public(),
		})
	})
}
