package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/bridge/internal/hub"
	"github.com/p-blackswan/bridge/internal/message"
	"github.com/p-blackswan/bridge/internal/snapshot"
	"github.com/p-blackswan/bridge/internal/task"
)

const pongWait = 75 * time.Second

// inbound is the client→server frame envelope. Fields beyond Type are
// populated per frame type; unknown fields are ignored.
type inbound struct {
	Type      string          `json:"type"`
	TaskID    string          `json:"taskId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Updates   json.RawMessage `json:"updates,omitempty"`

	// create_task / send_message / add_comment / add_task_log payloads
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Author      string `json:"author,omitempty"`
	Text        string `json:"text,omitempty"`
	Message     string `json:"message,omitempty"`
	LogType     string `json:"logType,omitempty"`
	Agent       string `json:"agent,omitempty"`
	To          string `json:"to,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Content     string `json:"content,omitempty"`
	MsgType     string `json:"msgType,omitempty"`
	From        string `json:"from,omitempty"`
}

func (s *Server) setupWebsocket() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		client := s.deps.Hub.Register(conn)
		defer s.deps.Hub.Unregister(client)

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			s.dispatchFrame(client, raw)
		}
	}))
}

// dispatchFrame handles one inbound frame. Handler errors are logged and
// swallowed: one bad frame never drops the connection.
func (s *Server) dispatchFrame(client *hub.Client, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		s.logger.Warn().Err(err).Msg("unparseable ws frame")
		return
	}

	var err error
	switch in.Type {
	case "ping":
		s.deps.Hub.SendTo(client, hub.TypePong, nil)

	case "refresh":
		for _, key := range []string{
			snapshot.KeySystem, snapshot.KeySessions, snapshot.KeyGit,
			snapshot.KeyPortfolio, snapshot.KeyGateway,
		} {
			s.deps.Aggregator.Cache().Invalidate(key)
		}
		snap := s.deps.Aggregator.Gather(context.Background())
		s.deps.Hub.SendTo(client, hub.TypeUpdate, snap)

	case "get_tasks":
		var doc task.Document
		doc, err = s.deps.Tasks.Load()
		if err == nil {
			s.deps.Hub.SendTo(client, hub.TypeTasks, doc)
		}

	case "update_task":
		var p task.Patch
		if err = json.Unmarshal(in.Updates, &p); err == nil {
			_, err = s.deps.Tasks.Update(in.TaskID, p, in.Agent)
		}

	case "add_comment":
		_, err = s.deps.Tasks.AddComment(in.TaskID, in.Author, in.Text)

	case "create_task":
		_, err = s.deps.Tasks.Create(task.CreateInput{
			Title:       in.Title,
			Description: in.Description,
			Assignee:    in.Assignee,
			Category:    in.Category,
			Priority:    in.Priority,
		})

	case "add_task_log":
		_, err = s.deps.Tasks.AddLog(in.TaskID, in.Message, in.LogType, in.Agent)

	case "get_messages":
		var doc message.Document
		doc, err = s.deps.Messages.Load()
		if err == nil {
			s.deps.Hub.SendTo(client, hub.TypeMessages, doc)
		}

	case "send_message":
		_, err = s.deps.Messages.Create(message.CreateInput{
			From:    in.From,
			To:      in.To,
			Type:    in.MsgType,
			Subject: in.Subject,
			Content: in.Content,
			TaskID:  in.TaskID,
		})

	case "update_message":
		var p message.Patch
		if err = json.Unmarshal(in.Updates, &p); err == nil {
			_, err = s.deps.Messages.Update(in.MessageID, p)
		}

	default:
		s.logger.Debug().Str("frame", in.Type).Msg("ignoring unknown ws frame type")
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("frame", in.Type).Msg("ws frame handler failed")
	}
}
