package handlers

import (
	"dice-duel/middleware"
	"dice-duel/services"

	"github.com/gofiber/fiber/v2"
)

func SetupQueueRoutes(app *fiber.App, queueService *services.QueueService) {
	queue := app.Group("/queue", middleware.UserContextMiddleware(false))
	queue.Post("/join", queueService.JoinHandler)
	queue.Post("/leave", queueService.LeaveHandler)
	queue.Get("/:player", queueService.EntriesHandler)
}

func SetupSessionRoutes(app *fiber.App, sessionService *services.SessionService, broadcaster *services.Broadcaster) {
	session := app.Group("/session", middleware.UserContextMiddleware(false))

	session.Post("/readyCheck/respond", sessionService.RespondReadyHandler)

	// 🎲 Gameplay
	session.Post("/action/roll", sessionService.RollHandler)
	session.Post("/action/bank", sessionService.BankHandler)
	session.Post("/action/attack", sessionService.AttackHandler)
	session.Post("/action/forfeit", sessionService.ForfeitHandler)

	// 🔌 Liveness and recovery
	session.Post("/heartbeat", sessionService.HeartbeatHandler)
	session.Post("/rejoin", sessionService.RejoinHandler)

	session.Get("/:id/events",
		middleware.SSEAuthMiddleware(sessionService.ResolveToken),
		sessionService.StreamSessionEvents(broadcaster),
	)
	session.Get("/:id", sessionService.GetSessionHandler)

	app.Get("/players/:id/session", middleware.UserContextMiddleware(false), sessionService.PlayerSessionHandler)
}
