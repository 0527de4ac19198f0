package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleSheetsBackend stores submissions in Google Sheets using a service
// account.
type GoogleSheetsBackend struct {
	service   *sheets.Service
	drive     *drive.Service
	shareWith string
	retry     RetryConfig
	log       *zap.Logger
}

// NewGoogleSheetsBackend reads service account credentials from
// credentialsPath. Spreadsheets created by the service account are shared as
// writer with shareWith when it is set, otherwise only the service account
// can see them.
func NewGoogleSheetsBackend(ctx context.Context, credentialsPath, shareWith string, log *zap.Logger) (*GoogleSheetsBackend, error) {
	credBytes, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credBytes, sheets.SpreadsheetsScope, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client := config.Client(ctx)
	return NewGoogleSheetsBackendWithClient(ctx, client, shareWith, log)
}

// NewGoogleSheetsBackendWithClient builds the backend on an already
// authorised HTTP client.
func NewGoogleSheetsBackendWithClient(ctx context.Context, client *http.Client, shareWith string, log *zap.Logger, opts ...option.ClientOption) (*GoogleSheetsBackend, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Sheets client: %w", err)
	}
	driveService, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}

	return &GoogleSheetsBackend{
		service:   service,
		drive:     driveService,
		shareWith: shareWith,
		retry:     DefaultRetryConfig,
		log:       log,
	}, nil
}

func (b *GoogleSheetsBackend) Open(ctx context.Context, id string) (Table, error) {
	var ss *sheets.Spreadsheet
	err := withRetry(ctx, b.retry, func() error {
		var err error
		ss, err = b.service.Spreadsheets.Get(id).Fields("spreadsheetId", "sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("open %q: %w", id, ErrStoreNotFound)
		}
		return nil, fmt.Errorf("open %q: %w", id, err)
	}
	return b.table(ss)
}

func (b *GoogleSheetsBackend) Create(ctx context.Context, title string) (Table, error) {
	spec := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    title,
			Locale:   "ja_JP",
			TimeZone: "Asia/Tokyo",
		},
	}
	ss, err := b.service.Spreadsheets.Create(spec).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create spreadsheet: %w", err)
	}

	if b.shareWith != "" {
		perm := &drive.Permission{Type: "user", Role: "writer", EmailAddress: b.shareWith}
		_, err := b.drive.Permissions.Create(ss.SpreadsheetId, perm).SendNotificationEmail(false).Context(ctx).Do()
		if err != nil {
			b.log.Warn("failed to share spreadsheet", zap.String("id", ss.SpreadsheetId), zap.String("with", b.shareWith), zap.Error(err))
		}
	}
	return b.table(ss)
}

func (b *GoogleSheetsBackend) table(ss *sheets.Spreadsheet) (Table, error) {
	if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
		return nil, fmt.Errorf("spreadsheet %q has no sheets", ss.SpreadsheetId)
	}
	props := ss.Sheets[0].Properties
	return &googleTable{
		backend:   b,
		id:        ss.SpreadsheetId,
		sheetID:   props.SheetId,
		sheetName: props.Title,
	}, nil
}

type googleTable struct {
	backend   *GoogleSheetsBackend
	id        string
	sheetID   int64
	sheetName string
}

func (t *googleTable) ID() string { return t.id }

func (t *googleTable) HasHeader(ctx context.Context) (bool, error) {
	var resp *sheets.ValueRange
	err := withRetry(ctx, t.backend.retry, func() error {
		var err error
		resp, err = t.backend.service.Spreadsheets.Values.Get(t.id, t.a1("A1")).Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, err
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return false, nil
	}
	return fmt.Sprint(resp.Values[0][0]) != "", nil
}

func (t *googleTable) WriteHeader(ctx context.Context, header []string) error {
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{row},
	}
	err := withRetry(ctx, t.backend.retry, func() error {
		_, err := t.backend.service.Spreadsheets.Values.Update(t.id, t.a1("A1"), valueRange).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}

	bold := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          t.sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(len(header)),
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}},
				},
				Fields: "userEnteredFormat.textFormat.bold",
			},
		}},
	}
	if _, err := t.backend.service.Spreadsheets.BatchUpdate(t.id, bold).Context(ctx).Do(); err != nil {
		t.backend.log.Warn("failed to format header row", zap.String("id", t.id), zap.Error(err))
	}
	return nil
}

func (t *googleTable) AppendRow(ctx context.Context, row []interface{}) error {
	// Append row to sheet
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{row},
	}

	err := withRetry(ctx, t.backend.retry, func() error {
		_, err := t.backend.service.Spreadsheets.Values.Append(t.id, t.a1("A1"), valueRange).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	})
	if isNotFound(err) {
		return fmt.Errorf("append to %q: %w", t.id, ErrStoreGone)
	}
	return err
}

func (t *googleTable) a1(cell string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(t.sheetName, "'", "''"), cell)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
