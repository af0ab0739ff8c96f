package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/bridge/internal/message"
	"github.com/p-blackswan/bridge/internal/task"
)

// Health reports liveness plus the connected client count.
func (s *Server) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"clients": s.deps.Hub.Count(),
	})
}

// GetData returns the full bridge snapshot.
func (s *Server) GetData(c *fiber.Ctx) error {
	snap := s.deps.Aggregator.Gather(c.UserContext())
	return c.JSON(snap)
}

// ListTasks returns tasks with filters and pagination metadata.
func (s *Server) ListTasks(c *fiber.Ctx) error {
	q := task.ListQuery{
		Status:      c.Query("status"),
		Assignee:    c.Query("assignee"),
		ExcludeDone: c.QueryBool("excludeDone"),
		Limit:       c.QueryInt("limit"),
		Offset:      c.QueryInt("offset"),
		Compact:     c.QueryBool("compact"),
	}
	tasks, total, err := s.deps.Tasks.List(q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"tasks":  tasks,
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// CreateTask adds a task to the board.
func (s *Server) CreateTask(c *fiber.Ctx) error {
	var in task.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return badJSON(c)
	}
	created, err := s.deps.Tasks.Create(in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateTask applies a partial update to a task.
func (s *Server) UpdateTask(c *fiber.Ctx) error {
	var p task.Patch
	if err := c.BodyParser(&p); err != nil {
		return badJSON(c)
	}
	updated, err := s.deps.Tasks.Update(c.Params("id"), p, c.Query("agent"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// DeleteTask removes a task.
func (s *Server) DeleteTask(c *fiber.Ctx) error {
	if err := s.deps.Tasks.Delete(c.Params("id"), c.Query("agent")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// AddComment appends a comment to a task.
func (s *Server) AddComment(c *fiber.Ctx) error {
	var in struct {
		Author string `json:"author"`
		Text   string `json:"text"`
	}
	if err := c.BodyParser(&in); err != nil {
		return badJSON(c)
	}
	updated, err := s.deps.Tasks.AddComment(c.Params("id"), in.Author, in.Text)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// AddTaskLog appends a progress log line to a task.
func (s *Server) AddTaskLog(c *fiber.Ctx) error {
	var in struct {
		Message string `json:"message"`
		Type    string `json:"logType"`
		Agent   string `json:"agent"`
	}
	if err := c.BodyParser(&in); err != nil {
		return badJSON(c)
	}
	updated, err := s.deps.Tasks.AddLog(c.Params("id"), in.Message, in.Type, in.Agent)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// ArchiveTasks sweeps old done tasks into the archive.
func (s *Server) ArchiveTasks(c *fiber.Ctx) error {
	days := c.QueryInt("days", s.deps.Config.ArchiveAfterDays)
	count, err := s.deps.Tasks.Archive(days)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"archived": count})
}

// TaskStats summarizes the board.
func (s *Server) TaskStats(c *fiber.Ctx) error {
	stats, err := s.deps.Tasks.Stats()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// ListMessages returns the full message document.
func (s *Server) ListMessages(c *fiber.Ctx) error {
	doc, err := s.deps.Messages.Load()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(doc)
}

// CreateMessage sends an inter-agent message.
func (s *Server) CreateMessage(c *fiber.Ctx) error {
	var in message.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return badJSON(c)
	}
	created, err := s.deps.Messages.Create(in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateMessage applies a partial update to a message.
func (s *Server) UpdateMessage(c *fiber.Ctx) error {
	var p message.Patch
	if err := c.BodyParser(&p); err != nil {
		return badJSON(c)
	}
	updated, err := s.deps.Messages.Update(c.Params("id"), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// DeleteMessage removes a message.
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	if err := s.deps.Messages.Delete(c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// ReplyMessage appends a reply and advances the message status.
func (s *Server) ReplyMessage(c *fiber.Ctx) error {
	var in struct {
		From     string `json:"from"`
		Text     string `json:"text"`
		Complete bool   `json:"complete"`
	}
	if err := c.BodyParser(&in); err != nil {
		return badJSON(c)
	}
	updated, err := s.deps.Messages.Reply(c.Params("id"), in.From, in.Text, in.Complete)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// CreateTaskFromMessage promotes a message into a board task.
func (s *Server) CreateTaskFromMessage(c *fiber.Ctx) error {
	updated, taskID, err := s.deps.Messages.CreateTaskFromMessage(c.Params("id"), s.deps.Tasks)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": updated,
		"taskId":  taskID,
	})
}

// MessageCounts aggregates totals globally and per crew member.
func (s *Server) MessageCounts(c *fiber.Ctx) error {
	counts, err := s.deps.Messages.Counts(s.deps.Roster.Agents())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(counts)
}

// GetSessions proxies live session state.
func (s *Server) GetSessions(c *fiber.Ctx) error {
	return c.JSON(s.deps.Aggregator.Sessions(c.UserContext()))
}

// GetCron proxies scheduler state.
func (s *Server) GetCron(c *fiber.Ctx) error {
	return c.JSON(s.deps.Aggregator.CronJobs(c.UserContext()))
}

// GetCheckpoints proxies checkpoint state.
func (s *Server) GetCheckpoints(c *fiber.Ctx) error {
	return c.JSON(s.deps.Aggregator.Checkpoints(c.UserContext()))
}

// GetWeather proxies the cached weather feed.
func (s *Server) GetWeather(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(s.deps.Aggregator.WeatherJSON(c.UserContext()))
}

// statusProxy serves a named status file with an unknown-status fallback.
func (s *Server) statusProxy(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(s.deps.Status.Read(name))
	}
}
