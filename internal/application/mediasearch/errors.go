package mediasearch

import "errors"

var (
	// ErrDegenerateVector 向量范数为零或包含 NaN/Inf，不能写入索引。
	ErrDegenerateVector = errors.New("degenerate vector")

	// ErrUnsupportedMediaType 入库边界无法识别的媒体类型。
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrNoFramesDecoded 视频没有任何一帧解码成功。
	ErrNoFramesDecoded = errors.New("no frames decoded")

	// ErrDimensionMismatch 向量维度与索引维度不一致。
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMediaDecodeFailed 媒体文件读取/解码失败。
	ErrMediaDecodeFailed = errors.New("media decode failed")

	// ErrEmbeddingFailed Embedder 调用失败或返回结果不完整。
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrEmbedderUnavailable 未配置 Embedder。
	ErrEmbedderUnavailable = errors.New("embedder is unavailable")

	// ErrInvalidMediaID 媒体标识为空。
	ErrInvalidMediaID = errors.New("media id is required")

	// ErrMediaNotFound 索引中不存在该媒体。
	ErrMediaNotFound = errors.New("media not found")
)
