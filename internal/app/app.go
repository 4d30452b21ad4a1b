// Package app 负责把配置、存储与各业务组件装配成一个可服务的 HTTP 处理器。
package app

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"gramport/internal/api"
	"gramport/internal/config"
	"gramport/internal/extract"
	"gramport/internal/importer"
	"gramport/internal/repository"
	"gramport/internal/service"
	"gramport/internal/stage"
	"gramport/internal/storage"
	"gramport/internal/upload"
)

// Deps 是装配所需的外部资源。
type Deps struct {
	Posts       repository.PostRepository
	Terms       repository.TermRepository
	Attachments repository.AttachmentRepository
	Storage     storage.Storage
}

// App 持有装配完成的处理器与后台组件。
type App struct {
	Handler http.Handler
	Janitor *upload.Janitor
	Driver  *stage.Driver
	close   func()
}

// New 按配置装配上传、导入与查询链路。
func New(cfg *config.Config, deps Deps, logger logrus.FieldLogger) (*App, error) {
	layout := upload.NewLayout(cfg.TempDir)
	limits := upload.Limits{ChunkSize: cfg.ChunkSize, MaxUploadSize: cfg.MaxUploadSize}

	janitor := upload.NewJanitor(layout, config.StaleAfter, logger.WithField("component", "janitor"))
	receiver := upload.NewReceiver(upload.NewChunkStore(layout), janitor, limits, logger.WithField("component", "receiver"))

	media := service.NewMediaService(deps.Attachments, deps.Storage)
	linker := importer.Linker{ProfileBaseURL: cfg.ProfileBaseURL, TagBaseURL: cfg.TagBaseURL}
	coordinator := importer.NewCoordinator(deps.Posts, deps.Terms, media, linker, logger.WithField("component", "importer"))

	extractor := extract.NewExtractor(extract.Paths{
		Legacy:     cfg.LegacyPostsPath,
		Structured: cfg.StructuredPostsPath,
	}, logger.WithField("component", "extractor"))

	driver := stage.NewDriver(layout, upload.NewAssembler(logger.WithField("component", "assembler")),
		stage.ZipUnpacker{}, extractor, coordinator, logger.WithField("component", "stage"))

	auth, closeAuth, err := api.Authenticator(cfg, logger)
	if err != nil {
		return nil, err
	}

	handler := api.NewRouter(cfg, auth, api.Handlers{
		Imports: api.NewImportHandler(receiver, driver, limits, logger),
		Posts:   api.NewPostHandler(service.NewPostService(deps.Posts, deps.Terms, deps.Attachments), media),
	})

	return &App{Handler: handler, Janitor: janitor, Driver: driver, close: closeAuth}, nil
}

// Close 释放后台资源。
func (a *App) Close() {
	if a != nil && a.close != nil {
		a.close()
	}
}
