package api

import (
	"io"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
)

const maxFileSize = 25 * 1024 * 1024 // 25 MB

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":             "api",
			"connected_sessions": m.hub.SessionCount(),
		},
	})
}

// issueTicket handles POST /auth/ticket. The returned ticket is single-use
// and expires within seconds; it stands in for the bearer token in the
// WebSocket URL.
func (m *APIModule) issueTicket(c *fiber.Ctx) error {
	userID := c.Locals(localUserID).(string)

	ticket, err := m.auth.IssueTicket(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "ticket_failed",
			Message: "Failed to issue connection ticket",
		})
	}

	return c.JSON(TicketResponse{Ticket: ticket})
}

// mintDevToken handles POST /auth/token. Only enabled with ALLOW_DEV_TOKENS=1;
// production deployments use an external identity provider.
func (m *APIModule) mintDevToken(c *fiber.Ctx) error {
	var req TokenRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "user_id is required",
		})
	}

	token, ok := m.auth.MintDevToken(req.UserID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Not found",
		})
	}

	return c.JSON(TokenResponse{AccessToken: token})
}

// clearHistory handles DELETE /chat/clear. Idempotent: clearing an already
// empty transcript succeeds.
func (m *APIModule) clearHistory(c *fiber.Ctx) error {
	userID := c.Locals(localUserID).(string)

	if err := m.transcript.Clear(userID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "clear_failed",
			Message: "Failed to clear chat history",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// uploadFile handles POST /files (multipart, field "file").
func (m *APIModule) uploadFile(c *fiber.Ctx) error {
	userID := c.Locals(localUserID).(string)

	header, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Multipart field 'file' is required",
		})
	}

	if header.Size > maxFileSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{
			Error:   "file_too_large",
			Message: "File exceeds the 25 MB upload limit",
		})
	}

	file, err := header.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "read_error",
			Message: "Failed to open uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxFileSize+1))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "read_error",
			Message: "Failed to read file data",
		})
	}
	if len(data) > maxFileSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{
			Error:   "file_too_large",
			Message: "File exceeds the 25 MB upload limit",
		})
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	ref, err := m.files.Upload(c.UserContext(), userID, header.Filename, data, contentType)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "upload_failed",
			Message: "Failed to store file",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(ref)
}

// filePathParam extracts the reference path from a /files/* route.
func filePathParam(c *fiber.Ctx) string {
	path := c.Params("*")
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	return path
}

// downloadFile handles GET /files/<path>, serving a stored attachment back to
// its owner.
func (m *APIModule) downloadFile(c *fiber.Ctx) error {
	userID := c.Locals(localUserID).(string)

	path := filePathParam(c)
	if path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "File path is required",
		})
	}

	data, info, err := m.files.Fetch(c.UserContext(), userID, path)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "File not found",
		})
	}

	c.Set(fiber.HeaderContentType, info.ContentType)
	return c.Send(data)
}

// deleteFile handles DELETE /files/<path>. Messages already referencing the
// file keep their reference; it simply stops resolving.
func (m *APIModule) deleteFile(c *fiber.Ctx) error {
	userID := c.Locals(localUserID).(string)

	path := filePathParam(c)
	if path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "File path is required",
		})
	}

	if err := m.files.Delete(c.UserContext(), userID, path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "File not found",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// listFiles handles GET /files, backing @filename references to existing
// uploads.
func (m *APIModule) listFiles(c *fiber.Ctx) error {
	userID := c.Locals(localUserID).(string)

	refs, err := m.files.ListRefs(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: "Failed to list files",
		})
	}

	return c.JSON(FileListResponse{Files: refs})
}
