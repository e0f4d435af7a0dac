package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/chatwarden/warden/moderation/engine"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// request metrics register with the default prometheus registry, so only once per process
var requestMetrics = echoprometheus.NewMiddleware("warden")

func newEcho(s *Server, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(otelecho.Middleware("warden"))
	e.Use(requestMetrics)
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/_health", s.HandleHealthCheck)
	e.GET("/v1/stats", s.HandleStats)
	e.GET("/v1/chats/:chatID", s.HandleGetChat)
	e.POST("/v1/messages", s.HandleMessage)
	e.POST("/v1/joins", s.HandleJoin)
	e.POST("/v1/commands", s.HandleCommand)
	return e
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		s.logger.Warn("warden-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "warden", Message: errorMessage})
}

// Maps an engine rejection to an HTTP status and error body.
func engineError(c echo.Context, err error) error {
	kind := engine.ErrorKind(err)
	code := http.StatusInternalServerError
	name := "InternalError"
	switch kind {
	case "forbidden":
		code = http.StatusForbidden
		name = "Forbidden"
	case "invalid_argument":
		code = http.StatusBadRequest
		name = "InvalidArgument"
	case "unknown_command":
		code = http.StatusNotFound
		name = "UnknownCommand"
	}
	return c.JSON(code, GenericError{Error: name, Message: err.Error()})
}

func parseChatID(raw string) (int64, error) {
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || chatID == 0 {
		return 0, fmt.Errorf("invalid chat id: %q", raw)
	}
	return chatID, nil
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, GenericError{Error: "BadRequest", Message: msg})
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "warden"})
}

func (s *Server) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Stats())
}

func (s *Server) HandleGetChat(c echo.Context) error {
	chatID, err := parseChatID(c.Param("chatID"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	// Get would create (and later persist) a default entry for the chat, so unknown ids stop here
	if !slices.Contains(s.store.ChatIDs(), chatID) {
		return c.JSON(http.StatusNotFound, GenericError{Error: "ChatNotFound", Message: fmt.Sprintf("no configuration stored for chat %d", chatID)})
	}
	return c.JSON(http.StatusOK, s.store.Get(chatID))
}

func (s *Server) HandleMessage(c echo.Context) error {
	var evt engine.MessageEvent
	if err := c.Bind(&evt); err != nil {
		return badRequest(c, "invalid message event body")
	}
	if evt.ChatID == 0 || evt.UserID == 0 {
		return badRequest(c, "chat_id and user_id are required")
	}
	dec, err := s.engine.ProcessMessage(c.Request().Context(), evt)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, dec)
}

func (s *Server) HandleJoin(c echo.Context) error {
	var evt engine.JoinEvent
	if err := c.Bind(&evt); err != nil {
		return badRequest(c, "invalid join event body")
	}
	if evt.ChatID == 0 || evt.UserID == 0 {
		return badRequest(c, "chat_id and user_id are required")
	}
	dec, err := s.engine.ProcessJoin(c.Request().Context(), evt)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, dec)
}

func (s *Server) HandleCommand(c echo.Context) error {
	var cmd engine.Command
	if err := c.Bind(&cmd); err != nil {
		return badRequest(c, "invalid command body")
	}
	if cmd.ChatID == 0 || cmd.Name == "" {
		return badRequest(c, "chat_id and name are required")
	}
	res, err := s.engine.ProcessCommand(c.Request().Context(), cmd)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
