package publication

import (
	"context"

	"git.handmade.network/hmn/tutorials/src/artifacts"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
)

func (s *Service) mirrorUpload(ctx context.Context, pub *models.PublishedContent, failed []*artifacts.ArtifactError) {
	if s.Mirror == nil {
		return
	}

	files := map[string]string{}
	for _, kind := range append([]models.ArtifactKind{models.ArtifactMarkdown}, s.Renderer.Kinds()...) {
		if isFailed(kind, failed) {
			continue
		}
		files[kind.Filename(pub.PublicSlug)] = s.ArtifactPath(pub, kind)
	}
	if err := s.Mirror.Upload(ctx, pub.PublicSlug, files); err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Str("slug", pub.PublicSlug).Msg("failed to mirror publication")
	}
}

func (s *Service) mirrorRemove(ctx context.Context, publicSlug string) {
	if s.Mirror == nil {
		return
	}
	if err := s.Mirror.Remove(ctx, publicSlug); err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Str("slug", publicSlug).Msg("failed to remove mirrored publication")
	}
}

func isFailed(kind models.ArtifactKind, failed []*artifacts.ArtifactError) bool {
	for _, f := range failed {
		if f.Kind == kind {
			return true
		}
	}
	return false
}
