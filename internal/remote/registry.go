package remote

import (
	"context"
	"fmt"

	"offlinesync/internal/config"
	"offlinesync/internal/handlers"

	"github.com/rs/zerolog"
	"google.golang.org/api/sheets/v4"
)

// BuildRegistry registers one handler per configured module.
func BuildRegistry(ctx context.Context, remote config.RemoteConfig, google config.GoogleConfig, logger *zerolog.Logger) (*handlers.Registry, error) {
	if err := config.ValidateModules(remote, google); err != nil {
		return nil, err
	}

	registry := handlers.NewRegistry()
	var (
		rest   *RESTClient
		sheetS *sheets.Service
		err    error
	)

	for _, m := range remote.Modules {
		var h handlers.SyncHandler
		switch m.Handler {
		case config.HandlerREST:
			if rest == nil {
				if rest, err = NewRESTClient(ctx, remote, logger); err != nil {
					return nil, err
				}
			}
			h = rest.Handler(m.Name, m.Path)
		case config.HandlerSheets:
			if sheetS == nil {
				if sheetS, err = NewSheetsService(ctx, google.GoogleCredentialsFile); err != nil {
					return nil, err
				}
			}
			h = NewSheetsHandler(sheetS, google.AuditSpreadsheetID, google.AuditSheetName, m.Name)
		default:
			return nil, fmt.Errorf("module %s: unknown handler %q", m.Name, m.Handler)
		}

		if err := registry.Register(h); err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info().Str("module", m.Name).Str("handler", m.Handler).Msg("sync handler registered")
		}
	}
	return registry, nil
}
