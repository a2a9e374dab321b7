package remote

import (
	"context"
	"fmt"
	"os"
	"time"

	"offlinesync/internal/handlers"
	"offlinesync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// NewSheetsService authenticates with a service-account credentials file.
func NewSheetsService(ctx context.Context, credentialsFile string) (*sheets.Service, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return srv, nil
}

// SheetsHandler appends every replayed mutation as a row of an audit sheet.
type SheetsHandler struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	module        string
	now           func() time.Time
}

var _ handlers.SyncHandler = (*SheetsHandler)(nil)

func NewSheetsHandler(service *sheets.Service, spreadsheetID, sheetName, module string) *SheetsHandler {
	return &SheetsHandler{
		service:       service,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		module:        module,
		now:           time.Now,
	}
}

func (h *SheetsHandler) Module() string { return h.module }

// TestConnection reads the header cell of the audit sheet.
func (h *SheetsHandler) TestConnection(ctx context.Context) error {
	_, err := h.service.Spreadsheets.Values.Get(h.spreadsheetID, h.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (h *SheetsHandler) Apply(ctx context.Context, rec models.QueueRecord) error {
	entityID := ""
	if rec.Action != models.ActionCreate {
		id, err := rec.EntityID()
		if err != nil {
			return fmt.Errorf("%s %s: %w", rec.Action, rec.ID, err)
		}
		entityID = id
	}

	row := []interface{}{
		rec.ID,
		rec.Module,
		string(rec.Action),
		entityID,
		string(rec.Payload),
		rec.Timestamp.Format("2006-01-02 15:04:05"),
		rec.RetryCount,
		h.now().Format("2006-01-02 15:04:05"),
	}

	valueRange := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := h.service.Spreadsheets.Values.Append(h.spreadsheetID, h.sheetName+"!A:A", valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	return nil
}
