package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const googleTimeout = 60 * time.Second

// GoogleCredentials authorizes the Sheets and Drive sinks. A credentials file
// (service account or authorized user JSON) yields tokens that refresh on
// their own; a bare access token is used until it expires.
type GoogleCredentials struct {
	File  string
	Token string
}

func (c GoogleCredentials) tokenSource(ctx context.Context, scopes ...string) (oauth2.TokenSource, error) {
	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return nil, fmt.Errorf("read google credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse google credentials %s: %w", c.File, err)
		}
		return creds.TokenSource, nil
	}
	if c.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token}), nil
	}
	return nil, errors.New("google credentials file or access token is required")
}

// clientOptions puts the credential first so opts can override transport and
// endpoint.
func (c GoogleCredentials) clientOptions(ctx context.Context, opts []option.ClientOption, scopes ...string) ([]option.ClientOption, error) {
	ts, err := c.tokenSource(ctx, scopes...)
	if err != nil {
		return nil, err
	}
	return append([]option.ClientOption{option.WithTokenSource(ts)}, opts...), nil
}

// SheetsSink appends one row per post to a spreadsheet range.
type SheetsSink struct {
	spreadsheetID string
	rng           string
	values        *sheets.SpreadsheetsValuesService
}

// NewSheets builds the sink. ctx is kept by the token source for refreshes,
// so it should outlive the sink.
func NewSheets(ctx context.Context, spreadsheetID, rng string, creds GoogleCredentials, opts ...option.ClientOption) (*SheetsSink, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	opts, err := creds.clientOptions(ctx, opts, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets auth: %w", err)
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsSink{
		spreadsheetID: spreadsheetID,
		rng:           rng,
		values:        srv.Spreadsheets.Values,
	}, nil
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) AppendText(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, googleTimeout)
	defer cancel()

	row := &sheets.ValueRange{Values: [][]interface{}{{rec.Text}}}
	_, err := s.values.Append(s.spreadsheetID, s.rng, row).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

// DriveSink uploads files into one folder.
type DriveSink struct {
	folderID string
	files    *drive.FilesService
}

// NewDrive builds the sink. ctx is kept by the token source for refreshes.
func NewDrive(ctx context.Context, folderID string, creds GoogleCredentials, opts ...option.ClientOption) (*DriveSink, error) {
	if folderID == "" {
		return nil, errors.New("drive folder id is required")
	}
	opts, err := creds.clientOptions(ctx, opts, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("drive auth: %w", err)
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveSink{folderID: folderID, files: srv.Files}, nil
}

func (d *DriveSink) Name() string { return "drive" }

func (d *DriveSink) Upload(ctx context.Context, name, mimeType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, googleTimeout)
	defer cancel()

	meta := &drive.File{Name: name, Parents: []string{d.folderID}}
	_, err := d.files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}
