package handler

import (
	stderrors "errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/internal/domain/entity"
	"media-search-api/internal/infrastructure/media"
	"media-search-api/internal/interfaces/http/dto"
	"media-search-api/pkg/logger"
)

// MediaHandler 媒体上传与检索处理器
type MediaHandler struct {
	engine         *mediasearch.Engine
	indexer        *mediasearch.Indexer
	store          *media.Store
	resolver       *entity.KindResolver
	maxUploadBytes int64
}

// NewMediaHandler 创建媒体处理器；maxUploadBytes<=0 表示不限制
func NewMediaHandler(
	engine *mediasearch.Engine,
	indexer *mediasearch.Indexer,
	store *media.Store,
	resolver *entity.KindResolver,
	maxUploadBytes int64,
) *MediaHandler {
	return &MediaHandler{
		engine:         engine,
		indexer:        indexer,
		store:          store,
		resolver:       resolver,
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload 上传并入库
// @Summary 上传媒体
// @Description 保存上传的图片/视频并计算向量写入索引；单个文件失败不影响其余文件
// @Tags Media
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "媒体文件（可多个）"
// @Success 200 {object} dto.Response[dto.UploadResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 413 {object} dto.ErrorResponse
// @Router /v1/media/upload [post]
func (h *MediaHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			dto.AppError(c, mediaAppError(err))
			return
		}
		dto.BadRequest(c, "no files uploaded")
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		logger.Warn(ctx, "upload without files")
		dto.BadRequest(c, "no files uploaded")
		return
	}

	// 保存失败的文件直接记为 skipped，其余文件照常入库
	outcomes := make([]mediasearch.IngestOutcome, len(files))
	positions := make([]int, 0, len(files))
	inputs := make([]mediasearch.IngestInput, 0, len(files))
	originals := make(map[string]string, len(files))
	for pos, fh := range files {
		id := media.SanitizeFilename(fh.Filename)
		kind := h.resolver.Resolve(id)
		originals[id] = fh.Filename

		path, err := h.save(id, fh)
		if err != nil {
			logger.Error(ctx, "failed to save uploaded file", err, "filename", id)
			outcomes[pos] = mediasearch.IngestOutcome{
				ID:     id,
				Kind:   kind,
				Status: mediasearch.IngestStatusSkipped,
				Reason: err,
			}
			continue
		}
		logger.Info(ctx, "file saved", "filename", id, "size", fh.Size)

		positions = append(positions, pos)
		inputs = append(inputs, mediasearch.IngestInput{
			ID:     id,
			Kind:   kind,
			Source: path,
		})
	}

	batch, err := h.indexer.IngestBatch(ctx, inputs)
	if err != nil {
		dto.AppError(c, mediaAppError(err))
		return
	}
	for i, pos := range positions {
		outcomes[pos] = batch.Outcomes[i]
	}
	res := &mediasearch.BatchResult{
		Submitted: len(files),
		Embedded:  batch.Embedded,
		Outcomes:  outcomes,
	}
	dto.Success(c, dto.ToUploadResponse(res, originals))
}

// save 把上传文件写入上传目录，返回落盘路径
func (h *MediaHandler) save(id string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer f.Close()
	return h.store.Save(id, f)
}

// Search 文本检索
// @Summary 文本检索媒体
// @Description 以文本检索最相似的图片/视频；空查询或查询向量不可用时返回空结果
// @Tags Media
// @Accept json
// @Produce json
// @Param body body dto.SearchRequest true "检索请求"
// @Success 200 {object} dto.Response[dto.SearchResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/media/search [post]
func (h *MediaHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	out, err := h.engine.Search(c.Request.Context(), req.ToInput())
	if err != nil {
		dto.AppError(c, mediaAppError(err))
		return
	}
	dto.Success(c, dto.ToSearchResponse(out))
}

// List 索引记录列表（按入库顺序分页）
// @Summary 列出已索引媒体
// @Tags Media
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[dto.MediaListResponse]
// @Router /v1/media [get]
func (h *MediaHandler) List(c *gin.Context) {
	page := dto.BindPage(c)
	records := h.engine.Records()
	start, end := page.Window(len(records))

	items := make([]*dto.MediaResponse, 0, end-start)
	for _, rec := range records[start:end] {
		items = append(items, dto.ToMediaResponse(rec, false))
	}
	dto.SuccessWithPage(c, &dto.MediaListResponse{Items: items},
		dto.NewPageMeta(page.Page, page.PageSize, len(records)))
}

// Snapshot 索引快照
// @Summary 索引快照
// @Description 返回 id → 向量 的完整映射，仅用于诊断
// @Tags Media
// @Produce json
// @Success 200 {object} dto.Response[dto.SnapshotResponse]
// @Router /v1/media/snapshot [get]
func (h *MediaHandler) Snapshot(c *gin.Context) {
	snap := h.engine.Snapshot()
	_, dim := h.engine.Stats()
	dto.Success(c, &dto.SnapshotResponse{
		Count:      len(snap),
		Dimension:  dim,
		Embeddings: snap,
	})
}

// Get 读取单条索引记录
// @Summary 获取媒体记录
// @Tags Media
// @Produce json
// @Param id path string true "媒体 ID（文件名）"
// @Param embedding query bool false "是否返回向量"
// @Success 200 {object} dto.Response[dto.MediaResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/media/{id} [get]
func (h *MediaHandler) Get(c *gin.Context) {
	rec, err := h.engine.Get(dto.BindMediaID(c))
	if err != nil {
		dto.AppError(c, mediaAppError(err))
		return
	}
	withEmbedding, _ := strconv.ParseBool(c.Query("embedding"))
	dto.Success(c, dto.ToMediaResponse(rec, withEmbedding))
}

// Delete 从索引移除（上传的文件保留）
// @Summary 移除媒体记录
// @Tags Media
// @Produce json
// @Param id path string true "媒体 ID（文件名）"
// @Success 200 {object} dto.Response[map[string]string]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/media/{id} [delete]
func (h *MediaHandler) Delete(c *gin.Context) {
	id := dto.BindMediaID(c)
	if err := h.engine.Delete(c.Request.Context(), id); err != nil {
		dto.AppError(c, mediaAppError(err))
		return
	}
	dto.Success(c, map[string]string{"id": id, "status": "deleted"})
}

// ServeUpload 返回上传的原始文件
// @Summary 下载上传文件
// @Tags Media
// @Param filename path string true "文件名"
// @Success 200 {file} file
// @Failure 404 {object} dto.ErrorResponse
// @Router /uploads/{filename} [get]
func (h *MediaHandler) ServeUpload(c *gin.Context) {
	name := c.Param("filename")
	if !h.store.Exists(name) {
		dto.NotFound(c, "file not found")
		return
	}
	path, err := h.store.Path(name)
	if err != nil {
		dto.AppError(c, mediaAppError(err))
		return
	}
	c.File(path)
}
