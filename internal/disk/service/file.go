package service

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/micro-chain/netdisk/internal/auth/middleware"
	"github.com/micro-chain/netdisk/internal/disk/biz"
	"github.com/micro-chain/netdisk/internal/idempotency"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
	"github.com/micro-chain/netdisk/internal/pkg/response"
)

// FileService exposes folder and file node endpoints.
type FileService struct {
	fileUC *biz.FileUseCase
	logger *logger.Logger
}

// NewFileService creates the file HTTP service.
func NewFileService(fileUC *biz.FileUseCase, log *logger.Logger) *FileService {
	return &FileService{fileUC: fileUC, logger: log}
}

// CreateFolder handles POST /folders.
func (s *FileService) CreateFolder(c *gin.Context) {
	var req CreateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid folder request: "+err.Error())
		return
	}

	node, err := s.fileUC.CreateFolder(c.Request.Context(), &biz.CreateFolderRequest{
		Name:        req.Name,
		ParentID:    req.ParentID,
		AppID:       c.GetString(middleware.ContextAppID),
		BusinessID:  req.BusinessID,
		BusinessTag: req.BusinessTag,
		CreatorID:   c.GetString(middleware.ContextUserID),
		CreatorName: c.GetString(middleware.ContextUserName),
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Created(c, toFileNodeInfo(node))
}

// Rename handles PUT /files/:id/name.
func (s *FileService) Rename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid rename request: "+err.Error())
		return
	}

	if err := s.fileUC.Rename(c.Request.Context(), c.Param("id"), req.Name); err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, nil)
}

// Move handles PUT /files/:id/parent.
func (s *FileService) Move(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid move request: "+err.Error())
		return
	}

	if err := s.fileUC.Move(c.Request.Context(), c.Param("id"), req.ParentID); err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, nil)
}

// Delete handles DELETE /files/:id.
func (s *FileService) Delete(c *gin.Context) {
	if err := s.fileUC.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, nil)
}

// Get handles GET /files/:id.
func (s *FileService) Get(c *gin.Context) {
	node, err := s.fileUC.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, toFileNodeInfo(node))
}

// ListChildren handles GET /folders/:id/children. The id "root" lists
// top-level nodes.
func (s *FileService) ListChildren(c *gin.Context) {
	parentID := c.Param("id")
	if parentID == "root" {
		parentID = biz.RootParentID
	}

	nodes, err := s.fileUC.ListChildren(c.Request.Context(),
		c.GetString(middleware.ContextAppID), parentID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	items := make([]*FileNodeInfo, 0, len(nodes))
	for _, node := range nodes {
		items = append(items, toFileNodeInfo(node))
	}

	response.Success(c, &ListChildrenResponse{ParentID: parentID, Items: items})
}

// Download handles GET /files/:id/content, streaming the stored bytes with
// the MIME type recorded for the blob.
func (s *FileService) Download(c *gin.Context) {
	content, err := s.fileUC.OpenContent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	defer content.Reader.Close()

	node := content.Node
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(node.Name)))
	if node.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(node.Size, 10))
	}
	c.DataFromReader(200, node.Size, content.ContentType, content.Reader, nil)
}

// RegisterRoutes mounts the netdisk API under the given group. Mutating
// endpoints run behind the per-user idempotency guard, each with its own
// operation name so locks never collide across operations.
func RegisterRoutes(group *gin.RouterGroup, guard *idempotency.Guard, upload *UploadService, file *FileService) {
	group.POST("/files/chunks", upload.UploadChunk)
	group.POST("/files/probe", guard.Middleware("file.probe"), upload.Probe)

	group.POST("/folders", guard.Middleware("folder.create"), file.CreateFolder)
	group.GET("/folders/:id/children", file.ListChildren)

	group.GET("/files/:id", file.Get)
	group.GET("/files/:id/content", file.Download)
	group.PUT("/files/:id/name", guard.Middleware("file.rename"), file.Rename)
	group.PUT("/files/:id/parent", guard.Middleware("file.move"), file.Move)
	group.DELETE("/files/:id", guard.Middleware("file.delete"), file.Delete)
}
