package handler

import (
	"context"
	stderrors "errors"
	"net/http"

	"media-search-api/internal/application/mediasearch"
	"media-search-api/internal/infrastructure/media"
	"media-search-api/pkg/errors"
)

// mediaAppError 将领域错误映射为 AppError
func mediaAppError(err error) *errors.AppError {
	if err == nil {
		return nil
	}
	if errors.IsAppError(err) {
		return errors.AsAppError(err)
	}

	var maxErr *http.MaxBytesError
	switch {
	case stderrors.As(err, &maxErr):
		return errors.ErrPayloadTooLarge.WithError(err)
	case stderrors.Is(err, mediasearch.ErrMediaNotFound):
		return errors.ErrMediaNotFound.WithError(err)
	case stderrors.Is(err, mediasearch.ErrInvalidMediaID), stderrors.Is(err, media.ErrInvalidFilename):
		return errors.ErrInvalidParam.WithDetail(err.Error()).WithError(err)
	case stderrors.Is(err, mediasearch.ErrUnsupportedMediaType):
		return errors.ErrUnsupportedMedia.WithError(err)
	case stderrors.Is(err, mediasearch.ErrNoFramesDecoded):
		return errors.ErrNoFramesDecoded.WithError(err)
	case stderrors.Is(err, mediasearch.ErrDegenerateVector):
		return errors.ErrDegenerateVector.WithError(err)
	case stderrors.Is(err, mediasearch.ErrDimensionMismatch):
		return errors.ErrDimensionMismatch.WithError(err)
	case stderrors.Is(err, mediasearch.ErrMediaDecodeFailed):
		return errors.ErrMediaDecodeFailed.WithError(err)
	case stderrors.Is(err, mediasearch.ErrEmbedderUnavailable):
		return errors.ErrEmbedderUnavailable.WithError(err)
	case stderrors.Is(err, mediasearch.ErrEmbeddingFailed):
		return errors.ErrEmbeddingFailed.WithError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrServiceUnavailable.WithDetail("request timed out").WithError(err)
	default:
		return errors.ErrInternalError.WithError(err)
	}
}
