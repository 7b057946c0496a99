// Package server - request handlers.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/session"
	"github.com/speaknode/speaknode/pkg/snapshot"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createChatRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (s *Server) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	id, err := s.sessions.Create(session.Meta{ID: req.ID, Title: req.Title})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleListChats(c *gin.Context) {
	scopes, err := s.sessions.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": scopes})
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	id := c.Param("id")
	if err := s.sessions.Delete(id); err != nil {
		fail(c, err)
		return
	}
	s.dropEngine(id)
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

type ingestRequest struct {
	Meeting  schema.Meeting        `json:"meeting"`
	Analysis schema.AnalysisResult `json:"analysis"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	// Embed before the store transaction so a failed embedding run
	// leaves nothing behind.
	if s.embedder != nil {
		for i := range req.Analysis.Utterances {
			if len(req.Analysis.Utterances[i].Embedding) > 0 {
				continue
			}
			vec, err := s.embedder.Embed(c.Request.Context(), req.Analysis.Utterances[i].Text)
			if err != nil {
				fail(c, err)
				return
			}
			req.Analysis.Utterances[i].Embedding = vec
		}
	}

	var meetingID string
	err := s.sessions.WithScope(c.Request.Context(), c.Param("id"),
		func(ctx context.Context, store *graph.Store) error {
			var err error
			meetingID, err = store.Ingest(ctx, req.Meeting, req.Analysis)
			return err
		})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"meeting_id": meetingID})
}

type queryRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	id := c.Param("id")
	err := s.sessions.WithScope(c.Request.Context(), id,
		func(ctx context.Context, store *graph.Store) error {
			engine, err := s.engineFor(id, store)
			if err != nil {
				return err
			}
			result, err := engine.Retrieve(ctx, req.Question)
			if err != nil {
				return err
			}
			c.JSON(http.StatusOK, result)
			return nil
		})
	if err != nil {
		fail(c, err)
	}
}

func (s *Server) handleListMeetings(c *gin.Context) {
	err := s.sessions.WithScope(c.Request.Context(), c.Param("id"),
		func(_ context.Context, store *graph.Store) error {
			meetings, err := store.Meetings()
			if err != nil {
				return err
			}
			c.JSON(http.StatusOK, gin.H{"meetings": meetings})
			return nil
		})
	if err != nil {
		fail(c, err)
	}
}

func (s *Server) handleMeetingSummary(c *gin.Context) {
	meetingID := c.Param("meeting")
	err := s.sessions.WithScope(c.Request.Context(), c.Param("id"),
		func(_ context.Context, store *graph.Store) error {
			summary, err := store.Summary(meetingID)
			if err != nil {
				return err
			}
			if summary == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
				return nil
			}
			c.JSON(http.StatusOK, summary)
			return nil
		})
	if err != nil {
		fail(c, err)
	}
}

type updateNodeRequest struct {
	Kind   string            `json:"kind"`
	Target string            `json:"target"`
	Fields map[string]string `json:"fields"`
}

func (s *Server) handleUpdateNode(c *gin.Context) {
	var req updateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	err := s.sessions.WithScope(c.Request.Context(), c.Param("id"),
		func(_ context.Context, store *graph.Store) error {
			matched, err := store.UpdateNode(schema.NodeKind(req.Kind), req.Target, req.Fields)
			if err != nil {
				return err
			}
			c.JSON(http.StatusOK, gin.H{"matched": matched})
			return nil
		})
	if err != nil {
		fail(c, err)
	}
}

func (s *Server) handleExport(c *gin.Context) {
	includeEmbeddings := c.Query("embeddings") == "true"
	err := s.sessions.WithScope(c.Request.Context(), c.Param("id"),
		func(_ context.Context, store *graph.Store) error {
			dump, err := store.Dump(includeEmbeddings)
			if err != nil {
				return err
			}
			c.JSON(http.StatusOK, dump)
			return nil
		})
	if err != nil {
		fail(c, err)
	}
}

func (s *Server) handleImport(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large or unreadable"})
		return
	}
	var dump graph.Dump
	if err := json.Unmarshal(body, &dump); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dump: " + err.Error()})
		return
	}
	err = s.sessions.WithScope(c.Request.Context(), c.Param("id"),
		func(_ context.Context, store *graph.Store) error {
			// Validate against the raw byte size actually received.
			if err := store.ValidateDump(&dump, len(body)); err != nil {
				return err
			}
			return store.Restore(&dump)
		})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": true, "elements": dump.ElementCount()})
}

func (s *Server) handleSnapshotEncode(c *gin.Context) {
	includeEmbeddings := c.Query("embeddings") == "true"
	err := s.sessions.WithScope(c.Request.Context(), c.Param("id"),
		func(_ context.Context, store *graph.Store) error {
			dump, err := store.Dump(includeEmbeddings)
			if err != nil {
				return err
			}
			image, err := snapshot.Encode(snapshot.NewBundle(dump, nil, includeEmbeddings))
			if err != nil {
				return err
			}
			c.Header("Content-Disposition", `attachment; filename="speaknode_snapshot.png"`)
			c.Data(http.StatusOK, "image/png", image)
			return nil
		})
	if err != nil {
		fail(c, err)
	}
}

// handleSnapshotImport decodes an uploaded snapshot image and restores
// its dump into the scope.
func (s *Server) handleSnapshotImport(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large or unreadable"})
		return
	}
	bundle, ok, err := snapshot.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !ok || bundle.GraphDump == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image carries no graph data"})
		return
	}
	err = s.sessions.WithScope(c.Request.Context(), c.Param("id"),
		func(_ context.Context, store *graph.Store) error {
			return store.Restore(bundle.GraphDump)
		})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"imported": true,
		"elements": bundle.GraphDump.ElementCount(),
	})
}

func (s *Server) handleSnapshotDecode(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large or unreadable"})
		return
	}
	bundle, ok, err := snapshot.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": true, "bundle": bundle})
}
