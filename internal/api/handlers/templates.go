package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/auth"
	"github.com/your-org/faceguard/internal/descriptor"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/verification"
	"github.com/your-org/faceguard/pkg/dto"
)

const maxImageBytes = 5 << 20

var imageTypes = map[string]bool{"image/jpeg": true, "image/png": true, "image/webp": true}

// TemplateReader is what the image endpoint needs to find a stored image.
type TemplateReader interface {
	GetTemplate(ctx context.Context, userID uuid.UUID) (*models.FaceTemplate, error)
}

// ImageReader fetches reference images.
type ImageReader interface {
	GetReference(ctx context.Context, key string) ([]byte, error)
}

type TemplateHandler struct {
	svc       *verification.Service
	templates TemplateReader
	images    ImageReader
}

func NewTemplateHandler(svc *verification.Service, templates TemplateReader, images ImageReader) *TemplateHandler {
	return &TemplateHandler{svc: svc, templates: templates, images: images}
}

// Register accepts JSON {org_id, samples}, or multipart with org_id,
// samples (JSON) and an optional image file.
func (h *TemplateHandler) Register(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var (
		req       dto.RegisterFaceRequest
		img       []byte
		imageType string
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		var err error
		req, img, imageType, err = h.readMultipart(c)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !auth.AuthorizeOrg(c, req.OrgID) {
		return
	}

	samples := make([]descriptor.Descriptor, len(req.Samples))
	for i, s := range req.Samples {
		samples[i] = s
	}
	tpl, err := h.svc.Register(c.Request.Context(), verification.RegisterRequest{
		UserID:    userID,
		OrgID:     req.OrgID,
		Samples:   samples,
		Image:     img,
		ImageType: imageType,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.TemplateResponse{
		UserID:      tpl.UserID,
		OrgID:       tpl.OrgID,
		SampleCount: tpl.SampleCount,
		HasImage:    tpl.ImageKey != "",
		CreatedAt:   timestamp(tpl.CreatedAt),
		UpdatedAt:   timestamp(tpl.UpdatedAt),
	})
}

type formError string

func (e formError) Error() string { return string(e) }

func (h *TemplateHandler) readMultipart(c *gin.Context) (dto.RegisterFaceRequest, []byte, string, error) {
	var req dto.RegisterFaceRequest
	org, err := uuid.Parse(c.PostForm("org_id"))
	if err != nil {
		return req, nil, "", formError("invalid org_id")
	}
	req.OrgID = org
	if err := json.Unmarshal([]byte(c.PostForm("samples")), &req.Samples); err != nil {
		return req, nil, "", formError("samples must be a JSON array of descriptors")
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return req, nil, "", err
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return req, nil, "", nil
	}
	if fh.Size > maxImageBytes {
		return req, nil, "", formError("image too large")
	}
	f, err := fh.Open()
	if err != nil {
		return req, nil, "", formError("read image failed")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
	if err != nil {
		return req, nil, "", formError("read image failed")
	}
	ct := http.DetectContentType(data)
	if !imageTypes[ct] {
		return req, nil, "", formError("image must be JPEG, PNG or WebP")
	}
	return req, data, ct, nil
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	org, err := uuid.Parse(c.Query("org_id"))
	if err != nil {
		badRequest(c, "org_id query parameter required")
		return
	}
	if !auth.AuthorizeOrg(c, org) {
		return
	}
	if err := h.svc.DeleteTemplate(c.Request.Context(), userID, org); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Image streams the stored reference image for a user.
func (h *TemplateHandler) Image(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if h.images == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "image storage not configured"})
		return
	}
	tpl, err := h.templates.GetTemplate(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if tpl == nil {
		writeError(c, verification.ErrNoTemplate)
		return
	}
	if !auth.AuthorizeOrg(c, tpl.OrgID) {
		return
	}
	if tpl.ImageKey == "" {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "no reference image"})
		return
	}
	data, err := h.images.GetReference(c.Request.Context(), tpl.ImageKey)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}
