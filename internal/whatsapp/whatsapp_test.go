package whatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestSessionDSN(t *testing.T) {
	tests := []struct {
		name       string
		dsn        string
		wantDriver string
		wantDSN    string
	}{
		{"default path", "", "sqlite3", "file:" + DefaultSQLitePath + "?_foreign_keys=on"},
		{"plain sqlite path", "/tmp/wa.db", "sqlite3", "file:/tmp/wa.db?_foreign_keys=on"},
		{"sqlite with params", "file:/tmp/wa.db?cache=shared", "sqlite3", "file:/tmp/wa.db?cache=shared&_foreign_keys=on"},
		{"foreign keys already set", "file:/tmp/wa.db?_foreign_keys=on", "sqlite3", "file:/tmp/wa.db?_foreign_keys=on"},
		{"postgres url", "postgres://u:p@localhost/wa", "postgres", "postgres://u:p@localhost/wa"},
		{"postgres key/value", "host=localhost user=postgres dbname=wa", "postgres", "host=localhost user=postgres dbname=wa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn := sessionDSN(tt.dsn)
			if driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("sessionDSN(%q) = %q, %q; want %q, %q", tt.dsn, driver, dsn, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	opts := &Opts{}
	WithDBDSN("/var/lib/donorpipe/test.db")(opts)
	WithQRCodeOutput("/tmp/qr.txt")(opts)
	WithNumericCode()(opts)

	if opts.DBDSN != "/var/lib/donorpipe/test.db" {
		t.Errorf("unexpected DBDSN %q", opts.DBDSN)
	}
	if opts.QRPath != "/tmp/qr.txt" {
		t.Errorf("unexpected QRPath %q", opts.QRPath)
	}
	if !opts.NumericCode {
		t.Error("expected NumericCode to be true")
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "15551234567", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Messages(); len(got) != 1 || got[0].To != "15551234567" || got[0].Body != "hi" {
		t.Errorf("unexpected messages %+v", got)
	}
	m.Err = errors.New("offline")
	if err := m.SendMessage(context.Background(), "1", "x"); err == nil {
		t.Error("expected configured error")
	}
}

func TestClientSendMessageRequiresConnection(t *testing.T) {
	c := &Client{}
	if err := c.SendMessage(context.Background(), "1", "x"); err == nil {
		t.Error("expected error for uninitialized client")
	}
}
