// Package api exposes the scheduler over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"RecurLedger/internal/logger"
	"RecurLedger/internal/model"
	"RecurLedger/internal/scheduler"
)

// Server serves the /api/recurring routes.
type Server struct {
	app   *fiber.App
	sched *scheduler.Scheduler
	log   zerolog.Logger
}

// New builds the fiber app and registers all routes.
func New(sched *scheduler.Scheduler, log zerolog.Logger) *Server {
	s := &Server{sched: sched, log: log.With().Str("component", "api").Logger()}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(s.requestLogger)
	s.app.Use(recover.New())
	s.app.Use(fiberlog.New(fiberlog.Config{
		Output: s.log,
		Format: "${status} ${method} ${path} ${latency}\n",
	}))

	api := s.app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	r := api.Group("/recurring")
	r.Post("/execute", s.execute)
	r.Get("/logs/execution", s.history)
	r.Post("/scheduler/trigger", s.trigger)
	r.Get("/scheduler/jobs", s.jobs)
	r.Post("/", s.create)
	r.Get("/", s.list)
	r.Get("/:id", s.get)
	r.Put("/:id", s.update)
	r.Delete("/:id", s.delete)
	r.Put("/:id/toggle", s.toggle)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks serving on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("HTTP API listening")
	return s.app.Listen(addr)
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestLogger attaches a per-request logger to the user context.
func (s *Server) requestLogger(c *fiber.Ctx) error {
	reqLog := s.log.With().
		Str("request_id", uuid.NewString()).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Logger()
	c.SetUserContext(logger.WithContext(c.UserContext(), reqLog))
	return c.Next()
}

func (s *Server) runContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.sched.RunTimeout)
}

func (s *Server) create(c *fiber.Ctx) error {
	in := model.RecurringRule{IsActive: true}
	if err := c.BodyParser(&in); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	r, err := s.sched.Create(c.UserContext(), &in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func (s *Server) list(c *fiber.Ctx) error {
	rules, err := s.sched.List(c.UserContext(), c.QueryBool("active_only", false))
	if err != nil {
		return err
	}
	return c.JSON(rules)
}

func (s *Server) get(c *fiber.Ctx) error {
	r, err := s.sched.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(r)
}

// update merges the JSON body onto the stored rule; absent fields keep
// their values.
func (s *Server) update(c *fiber.Ctx) error {
	body := c.Body()
	r, err := s.sched.Update(c.UserContext(), c.Params("id"), func(r *model.RecurringRule) error {
		if err := json.Unmarshal(body, r); err != nil {
			return &model.ValidationError{Field: "body", Reason: err.Error()}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (s *Server) delete(c *fiber.Ctx) error {
	if err := s.sched.Delete(c.UserContext(), c.Params("id"), c.QueryBool("cascade", false)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "recurring rule deleted"})
}

func (s *Server) toggle(c *fiber.Ctx) error {
	r, err := s.sched.Toggle(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	state := "deactivated"
	if r.IsActive {
		state = "activated"
	}
	return c.JSON(fiber.Map{"message": "recurring rule " + state, "is_active": r.IsActive})
}

type executeResponse struct {
	Success bool `json:"success"`
	*model.BatchResult
}

func (s *Server) execute(c *fiber.Ctx) error {
	var date *civil.Date
	if v := c.Query("execution_date"); v != "" {
		d, err := civil.ParseDate(v)
		if err != nil {
			return &model.ValidationError{Field: "execution_date", Reason: "expected YYYY-MM-DD"}
		}
		date = &d
	}
	ctx, cancel := s.runContext(c)
	defer cancel()
	res, err := s.sched.Execute(ctx, date)
	if err != nil {
		return err
	}
	return c.JSON(executeResponse{Success: res.Success(), BatchResult: res})
}

func (s *Server) history(c *fiber.Ctx) error {
	entries, err := s.sched.History(c.UserContext(), c.Query("transaction_id"), c.QueryInt("days", scheduler.DefaultHistoryDays))
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (s *Server) trigger(c *fiber.Ctx) error {
	ctx, cancel := s.runContext(c)
	defer cancel()
	res, err := s.sched.TriggerNow(ctx)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "daily job triggered", "result": executeResponse{Success: res.Success(), BatchResult: res}})
}

func (s *Server) jobs(c *fiber.Ctx) error {
	return c.JSON([]model.SchedulerStatus{s.sched.Status()})
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	log := logger.FromContext(c.UserContext())
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("request failed")
	} else {
		log.Warn().Err(err).Int("status", code).Msg("request rejected")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		ve *model.ValidationError
		fe *fiber.Error
	)
	switch {
	case errors.As(err, &ve):
		return fiber.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, model.ErrHasHistory), errors.Is(err, model.ErrRunInProgress):
		return fiber.StatusConflict
	case errors.Is(err, model.ErrResultTimeout):
		return fiber.StatusGatewayTimeout
	case errors.As(err, &fe):
		return fe.Code
	default:
		return fiber.StatusInternalServerError
	}
}
