package server

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/health"
	"github.com/atelier-ai/atelier/internal/workspace"
)

func (s *Server) liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) readiness(c *fiber.Ctx) error {
	results := s.checker.RunAll(c.UserContext())
	ready := true
	for _, r := range results {
		if r.Status == health.StatusDown {
			ready = false
			break
		}
	}
	status := "ready"
	code := fiber.StatusOK
	if !ready {
		status = "not_ready"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"status": status, "checks": results})
}

func projectInfo(p *workspace.Project) ProjectInfo {
	return ProjectInfo{
		ID:         p.ID,
		Name:       p.Name,
		ReadDirs:   p.ReadRoots,
		WriteDir:   p.WriteRoot,
		StagingDir: p.StagingRoot,
		Aliases:    p.Aliases,
	}
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	projects := s.projects.List()
	out := make([]ProjectInfo, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectInfo(p))
	}
	return c.JSON(fiber.Map{"projects": out})
}

func (s *Server) getProject(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	return c.JSON(projectInfo(p))
}

func (s *Server) listFS(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	entries, err := s.browser.List(p, c.Query("path"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (s *Server) search(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	results, err := s.browser.Search(p, c.Query("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"results": results})
}

func (s *Server) readFile(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	path := c.Query("path")
	if path == "" {
		return fmt.Errorf("%w: path query parameter is required", apperr.ErrInvalidInput)
	}
	preview, err := s.browser.Read(p, path)
	if err != nil {
		return err
	}
	return c.JSON(preview)
}

func (s *Server) ask(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if req.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", apperr.ErrInvalidInput)
	}

	ctx := c.UserContext()
	if s.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.GenerationTimeout)
		defer cancel()
	}

	out, err := s.dispatcher.Ask(ctx, p, req.Prompt, nil)
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (s *Server) listStaged(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	files, err := s.staging.List(p)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"staged": files})
}

func (s *Server) diff(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	path := c.Query("path")
	if path == "" {
		return fmt.Errorf("%w: path query parameter is required", apperr.ErrInvalidInput)
	}
	diff, err := s.staging.Diff(p, path)
	if err != nil {
		return err
	}
	return c.JSON(DiffResponse{Path: path, Diff: diff})
}

func (s *Server) promote(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	var req PromoteRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if req.Path == "" {
		return fmt.Errorf("%w: path is required", apperr.ErrInvalidInput)
	}

	err = s.staging.Promote(c.UserContext(), p, req.Path, req.Overwrite)
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = apperr.Kind(err)
		}
		s.metrics.RecordStagingOp("promote", result)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"promoted": req.Path})
}

func (s *Server) reject(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	path := c.Query("path")
	if path == "" {
		return fmt.Errorf("%w: path query parameter is required", apperr.ErrInvalidInput)
	}

	err = s.staging.Reject(c.UserContext(), p, path)
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = apperr.Kind(err)
		}
		s.metrics.RecordStagingOp("reject", result)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rejected": path})
}

func (s *Server) history(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	if s.audit == nil {
		return c.JSON(fiber.Map{"events": []struct{}{}})
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := s.audit.ListByProject(p.ID, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"events": entries})
}
