package service

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/micro-chain/netdisk/internal/auth/middleware"
	"github.com/micro-chain/netdisk/internal/disk/biz"
	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
	"github.com/micro-chain/netdisk/internal/pkg/response"
	"go.uber.org/zap"
)

// UploadService exposes the chunk upload endpoints.
type UploadService struct {
	uploadUC *biz.UploadUseCase
	logger   *logger.Logger
}

// NewUploadService creates the upload HTTP service.
func NewUploadService(uploadUC *biz.UploadUseCase, log *logger.Logger) *UploadService {
	return &UploadService{uploadUC: uploadUC, logger: log}
}

// UploadChunk handles POST /files/chunks. The chunk bytes arrive as the
// multipart part named "chunk"; session and file fields ride in the form.
func (s *UploadService) UploadChunk(c *gin.Context) {
	var form ChunkUploadForm
	if err := c.ShouldBind(&form); err != nil {
		response.BadRequest(c, "invalid chunk form: "+err.Error())
		return
	}

	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		response.BadRequest(c, "missing chunk part")
		return
	}

	part, err := fileHeader.Open()
	if err != nil {
		response.HandleError(c, apperrors.Wrap(err, apperrors.ErrStorageFailed, "read chunk"))
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		response.HandleError(c, apperrors.Wrap(err, apperrors.ErrStorageFailed, "read chunk"))
		return
	}

	offset := int64(-1)
	if form.Offset != nil {
		offset = *form.Offset
	}

	req := &biz.ChunkUploadRequest{
		SessionID:   form.SessionID,
		Index:       *form.Index,
		Total:       form.Total,
		Offset:      offset,
		Data:        data,
		FileID:      form.FileID,
		FileName:    form.FileName,
		FileHash:    form.FileHash,
		AppID:       c.GetString(middleware.ContextAppID),
		BusinessID:  form.BusinessID,
		BusinessTag: form.BusinessTag,
		ParentID:    form.ParentID,
		Suffix:      form.Suffix,
		Icon:        form.Icon,
		TypeCode:    form.TypeCode,
		CreatorID:   c.GetString(middleware.ContextUserID),
		CreatorName: c.GetString(middleware.ContextUserName),
	}

	result, err := s.uploadUC.UploadChunk(c.Request.Context(), req)
	if err != nil {
		s.logger.Warn("chunk upload failed",
			zap.String("session_id", form.SessionID),
			zap.Int("index", *form.Index),
			zap.Error(err),
		)
		response.HandleError(c, err)
		return
	}

	response.Success(c, &ChunkUploadResponse{
		Received:  result.Received,
		Total:     result.Total,
		Duplicate: result.Duplicate,
		Completed: result.Completed,
		File:      toFileNodeInfo(result.Node),
	})
}

// Probe handles POST /files/probe: fast upload by declared content hash.
func (s *UploadService) Probe(c *gin.Context) {
	var req ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid probe request: "+err.Error())
		return
	}

	result, err := s.uploadUC.Probe(c.Request.Context(), &biz.ProbeRequest{
		FileHash:    req.FileHash,
		FileID:      req.FileID,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		AppID:       c.GetString(middleware.ContextAppID),
		BusinessID:  req.BusinessID,
		BusinessTag: req.BusinessTag,
		ParentID:    req.ParentID,
		Suffix:      req.Suffix,
		Icon:        req.Icon,
		TypeCode:    req.TypeCode,
		CreatorID:   c.GetString(middleware.ContextUserID),
		CreatorName: c.GetString(middleware.ContextUserName),
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, &ProbeResponse{
		Hit:  result.Hit,
		File: toFileNodeInfo(result.Node),
	})
}
